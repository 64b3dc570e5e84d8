package mutation

import (
	"errors"
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mailroom/internal/apperr"
	"github.com/starford/mailroom/internal/remote"
)

func invalid(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
}

// emailAddress accepts a bare address only, no display name.
func emailAddress(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return errors.New("must be a valid email address")
	}
	return nil
}

func validateContact(in *remote.ContactInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.ValidateStruct(in,
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Email, validation.Required, validation.By(emailAddress)),
	); err != nil {
		return invalid(err)
	}
	return nil
}

func validateGroup(in *remote.GroupInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.ValidateStruct(in,
		validation.Field(&in.Name, validation.Required),
	); err != nil {
		return invalid(err)
	}
	return nil
}

// ValidateGroup checks a group's scalar fields without issuing any call.
func ValidateGroup(in *remote.GroupInput) error {
	return validateGroup(in)
}

func validateTemplate(in *remote.TemplateInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.ValidateStruct(in,
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Content, validation.Required),
	); err != nil {
		return invalid(err)
	}
	return nil
}

// prepareUpload fills Content from the file and Name from the file name
// when they are missing, then validates.
func prepareUpload(in *remote.TemplateUpload) error {
	if in.Content == "" && len(in.File) > 0 {
		in.Content = string(in.File)
	}
	if strings.TrimSpace(in.Name) == "" && in.FileName != "" {
		base := filepath.Base(in.FileName)
		in.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	ti := remote.TemplateInput{Name: in.Name, Content: in.Content}
	if err := validateTemplate(&ti); err != nil {
		return err
	}
	in.Name = ti.Name
	return nil
}

func validateProfile(in *remote.ProfileUpdate) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.ValidateStruct(in,
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Email, validation.Required, validation.By(emailAddress)),
	); err != nil {
		return invalid(err)
	}
	return nil
}
