package internal

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/localstore"
	"github.com/starford/mailroom/internal/mcpserver"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/remote"
	"github.com/starford/mailroom/internal/session"
	"github.com/starford/mailroom/internal/templatedrop"
)

// ServeMCP serves the MCP tools on stdin/stdout until the client disconnects.
func ServeMCP(_ context.Context, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, srv *mcpserver.Server, log *zap.Logger) error {
		defer store.Close()
		log.Info("serving MCP on stdio")
		return srv.ServeStdio()
	})
}

// Login signs in with an identity provider token and reports the result to w.
// A failed backend sync is reported but the session is kept.
func Login(ctx context.Context, token string, w io.Writer, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, sess *session.Session) error {
		defer store.Close()
		err := sess.SignIn(ctx, session.Identity{Token: token})
		if err != nil && !sess.IsAuthenticated() {
			return err
		}
		user, _ := sess.User()
		fmt.Fprintf(w, "signed in as %s\n", displayName(user.Email))
		if err != nil {
			fmt.Fprintf(w, "warning: %v\n", err)
		}
		return nil
	})
}

// Logout clears the stored session.
func Logout(_ context.Context, w io.Writer, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, sess *session.Session) error {
		defer store.Close()
		if err := sess.SignOut(); err != nil {
			return err
		}
		fmt.Fprintln(w, "signed out")
		return nil
	})
}

// WhoAmI prints the signed-in user and token expiry.
func WhoAmI(_ context.Context, w io.Writer, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, sess *session.Session) error {
		defer store.Close()
		if !sess.IsAuthenticated() {
			fmt.Fprintln(w, "not signed in")
			return nil
		}
		user, _ := sess.User()
		fmt.Fprintf(w, "email: %s\n", displayName(user.Email))
		if user.DisplayName != "" {
			fmt.Fprintf(w, "name:  %s\n", user.DisplayName)
		}
		if exp, ok := sess.ExpiresAt(); ok {
			state := "valid"
			if time.Now().After(exp) {
				state = "expired"
			}
			fmt.Fprintf(w, "token: %s until %s\n", state, exp.Local().Format(time.RFC1123))
		}
		return nil
	})
}

// VerifyEmail redeems an email verification token.
func VerifyEmail(ctx context.Context, token string, w io.Writer, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, client *remote.Client) error {
		defer store.Close()
		msg, err := client.VerifyEmail(ctx, token)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "email verified"
		}
		fmt.Fprintln(w, msg)
		return nil
	})
}

// ExportTemplates writes the account's templates into the drop folder.
func ExportTemplates(ctx context.Context, w io.Writer, opts ...Option) error {
	return invoke(opts, func(store *localstore.DB, sess *session.Session, svc *mutation.Service, syncer *templatedrop.Syncer, cfg *Config) error {
		defer store.Close()
		if err := sess.Require(); err != nil {
			return err
		}
		templates, err := svc.Templates(ctx)
		if err != nil {
			return err
		}
		n, err := syncer.Export(templates)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "exported %d of %d templates to %s\n", n, len(templates), cfg.Templates.DropDir)
		return nil
	})
}

func invoke(opts []Option, fn any) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.container()
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	if err := c.Invoke(fn); err != nil {
		return dig.RootCause(err)
	}
	return nil
}

func displayName(email string) string {
	if email == "" {
		return "(unknown)"
	}
	return email
}
