package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lllllllleong/imageexportflow/internal/services"
)

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          services.Wrap(services.ErrInvalidDelivery, "dispatch", "missing caller name", nil),
		http.StatusNotFound:            services.Wrap(services.ErrNotFound, "resolve", "", nil),
		http.StatusConflict:            services.Wrap(services.ErrWorkspaceBusy, "workspace", "", nil),
		http.StatusInternalServerError: errors.Join(services.Wrap(services.ErrTransportFailed, "dispatch", "", nil), services.Wrap(services.ErrCleanupFailed, "workspace", "", nil)),
	}
	for want, err := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
