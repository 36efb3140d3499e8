package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE(t *testing.T) {
	assert.NoError(t, E(TransientIO, "op", nil))

	cause := errors.New("cause")
	err := E(TransientIO, "op", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, TransientIO, KindOf(err))
	assert.Equal(t, "op: cause", err.Error())

	assert.Same(t, err, E(TransientIO, "op", err))

	outer := E(ModelFailure, "other", err)
	assert.Equal(t, ModelFailure, KindOf(outer))
	assert.ErrorIs(t, outer, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, StateInvariant, KindOf(ErrEmptyGallery))
	assert.Equal(t, FileIntegrity, KindOf(fmt.Errorf("wrapped: %w", E(FileIntegrity, "scan", errors.New("x")))))
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"generation", E(TransientIO, OpGenerate, errors.New("timeout")), "Do not panic and try different prompt"},
		{"upscale", E(ModelFailure, OpUpscale, errors.New("cuda")), "Upscaling failed!"},
		{"backup", E(TransientIO, OpBackup, errors.New("disk")), "Backup failed"},
		{"configuration wins", E(Configuration, OpGenerate, errors.New("mask")), "Configuration error, check your .env file"},
		{"delete", E(TransientIO, "delete", errors.New("perm")), "File operation failed"},
		{"empty", ErrEmptyGallery, "No image selected"},
		{"gone", E(StateInvariant, OpDelete, ErrRecordGone), "The image is no longer in the gallery"},
		{"plain", errors.New("plain"), "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Notify(tt.err)
			assert.Equal(t, "Oops. Error occurred", n.Title)
			assert.Equal(t, tt.want, n.Message)
			assert.Equal(t, tt.err.Error(), n.Detail)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transient_io", TransientIO.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
