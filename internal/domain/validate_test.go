package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID   uuid.UUID   `validate:"notnil"`
	Body string      `validate:"notblank"`
	Kind MessageType `validate:"oneof=text media"`
}

func TestValidate_Reports_First_Field(t *testing.T) {
	req := require.New(t)

	// Given a struct with a nil id
	err := Validate(sample{Body: "hi", Kind: MessageTypeText})

	// Then a ValidationError names the field
	var ve *ValidationError
	req.True(errors.As(err, &ve))
	req.Equal("ID", ve.Field)
	req.Equal("is required", ve.Reason)
}

func TestValidate_Blank_Content(t *testing.T) {
	req := require.New(t)

	err := Validate(sample{ID: uuid.New(), Body: "   ", Kind: MessageTypeText})

	req.True(IsValidation(err))
	req.Contains(err.Error(), "must not be blank")
}

func TestValidate_Ok(t *testing.T) {
	require.NoError(t, Validate(sample{ID: uuid.New(), Body: "hi", Kind: MessageTypeMedia}))
}

func TestNotFoundError_Matches_Sentinel(t *testing.T) {
	req := require.New(t)
	err := NewNotFoundError("message", uuid.New())

	req.ErrorIs(err, ErrNotFound)
	req.False(IsStore(err))
}

func TestStoreError_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("create message", cause)

	require.ErrorIs(t, err, cause)
	require.True(t, IsStore(err))
}

func TestNotificationType_Persistable(t *testing.T) {
	require.True(t, NotificationPostLike.Persistable())
	require.False(t, NotificationUnfriend.Persistable())
}
