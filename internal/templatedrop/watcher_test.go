package templatedrop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mailroom/internal/testutil"
)

func startWatch(t *testing.T, s *Syncer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Watch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_ExistingFilesScanned(t *testing.T) {
	up := &fakeUploader{}
	s, fs, _ := newSyncer(t, up)
	_ = fs.Write("existing.txt", []byte("already here"))

	startWatch(t, s)

	testutil.Eventually(t, 5*time.Second, func() bool { return up.createdCount() == 1 }, "existing file not uploaded")
}

func TestWatcher_NewFileUploaded(t *testing.T) {
	up := &fakeUploader{}
	s, fs, rec := newSyncer(t, up)
	startWatch(t, s)

	_ = os.WriteFile(filepath.Join(fs.Root(), "new.txt"), []byte("fresh"), 0o644)

	testutil.Eventually(t, 5*time.Second, func() bool { return up.createdCount() == 1 }, "new file not uploaded")
	testutil.Eventually(t, 2*time.Second, func() bool {
		for _, o := range rec.outcomes() {
			if o == "created:new.txt" {
				return true
			}
		}
		return false
	}, "created event not emitted")
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	up := &fakeUploader{}
	s, fs, _ := newSyncer(t, up)
	startWatch(t, s)

	_ = os.WriteFile(filepath.Join(fs.Root(), "notes.md"), []byte("nope"), 0o644)
	_ = os.WriteFile(filepath.Join(fs.Root(), "real.txt"), []byte("yes"), 0o644)

	testutil.Eventually(t, 5*time.Second, func() bool { return up.createdCount() == 1 }, "template not uploaded")
	time.Sleep(3 * settle)
	if n := up.createdCount(); n != 1 {
		t.Errorf("created = %d, want 1", n)
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	up := &fakeUploader{}
	s, fs, _ := newSyncer(t, up)
	startWatch(t, s)

	sub := filepath.Join(fs.Root(), "campaigns")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "spring.txt"), []byte("spring sale"), 0o644)

	testutil.Eventually(t, 5*time.Second, func() bool { return up.createdCount() == 1 }, "file in new subdirectory not uploaded")
}

func TestWatcher_RemoveForgets(t *testing.T) {
	up := &fakeUploader{}
	s, fs, _ := newSyncer(t, up)
	_ = fs.Write("gone.txt", []byte("bye"))
	startWatch(t, s)
	testutil.Eventually(t, 5*time.Second, func() bool { return up.createdCount() == 1 }, "initial upload missing")

	_ = os.Remove(filepath.Join(fs.Root(), "gone.txt"))
	testutil.Eventually(t, 5*time.Second, func() bool {
		_, ok, _ := s.ledger.GetUpload("gone.txt")
		return !ok
	}, "upload record not removed")
}
