package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/credential"
	"github.com/netraven/core/errs"
	"github.com/netraven/core/service"
)

func TestUpsertDeviceRejectsMissingHostname(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertDevice(context.Background(), &catalog.Device{Host: "10.0.0.1"})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}

func TestUpsertDeviceRejectsMissingHost(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertDevice(context.Background(), &catalog.Device{Hostname: "sw1"})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}

func TestUpsertTagRejectsMissingName(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertTag(context.Background(), &catalog.Tag{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}

func TestUpsertJobRejectsMissingName(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertJob(context.Background(), &catalog.Job{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}

func TestUpsertJobRejectsMissingSelector(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertJob(context.Background(), &catalog.Job{Name: "nightly-backup"})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}

func TestUpsertCredentialRejectsMissingUsername(t *testing.T) {
	s := &service.Service{}
	err := s.UpsertCredential(context.Background(), &catalog.Credential{}, credential.Secret{Password: "x"})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Validation))
}
