// catalog_test.go: Tests for the service catalog routing surface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hostkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*ServiceCatalog, *ServiceRegistry) {
	t.Helper()
	registry := NewServiceRegistry(NewTestLogger())
	chain := NewMiddlewareChain(NewTestLogger(), nil, nil)
	return NewServiceCatalog(registry, chain, NewTestLogger()), registry
}

func TestServiceCatalog_RegisterAndRoute(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{
		Name: "billing.charge",
		Handler: func(ctx context.Context, req Request) (Response, error) {
			return Response{Payload: "charged"}, nil
		},
	}))
	catalog.SetRoutable("billing", true)

	resp, err := catalog.Route(context.Background(), "billing.charge", Request{Payload: 100})
	require.NoError(t, err)
	assert.Equal(t, "charged", resp.Payload)
	assert.NotEmpty(t, resp.CorrelationID, "a missing correlation id is filled in")
}

func TestServiceCatalog_UnknownOperation(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	_, err := catalog.Route(context.Background(), "nope", Request{})
	require.Error(t, err)
	assert.Equal(t, string(ErrCodeOperationNotFound), ErrorCode(err))
}

func TestServiceCatalog_NotRoutableUntilRunning(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{
		Name: "billing.charge",
		Handler: func(ctx context.Context, req Request) (Response, error) {
			return Response{}, nil
		},
	}))

	_, err := catalog.Route(context.Background(), "billing.charge", Request{})
	require.Error(t, err, "operations are not routable before the plugin runs")
	assert.Equal(t, string(ErrCodePluginNotRunning), ErrorCode(err))

	catalog.SetRoutable("billing", true)
	_, err = catalog.Route(context.Background(), "billing.charge", Request{})
	require.NoError(t, err)

	catalog.SetRoutable("billing", false)
	_, err = catalog.Route(context.Background(), "billing.charge", Request{})
	require.Error(t, err, "draining flips operations back to non-routable")
}

func TestServiceCatalog_DuplicateOperation(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	handler := func(ctx context.Context, req Request) (Response, error) { return Response{}, nil }

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{Name: "charge", Handler: handler}))

	err := catalog.RegisterOperation("payments", OperationSpec{Name: "charge", Handler: handler})
	require.Error(t, err, "operation names are global across plugins")
	assert.Equal(t, string(ErrCodeDuplicateOperation), ErrorCode(err))
}

func TestServiceCatalog_RequiredCapabilities(t *testing.T) {
	catalog, registry := newTestCatalog(t)

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{
		Name: "billing.charge",
		Handler: func(ctx context.Context, req Request) (Response, error) {
			return Response{}, nil
		},
		RequiredCapabilities: []CapabilityType{"database"},
	}))
	catalog.SetRoutable("billing", true)

	_, err := catalog.Route(context.Background(), "billing.charge", Request{})
	require.Error(t, err, "a required capability missing at dispatch fails the request")
	assert.Equal(t, string(ErrCodeUnresolvedCapability), ErrorCode(err))

	require.NoError(t, registry.RegisterInstance("database", &fakeDatabase{}))
	_, err = catalog.Route(context.Background(), "billing.charge", Request{})
	require.NoError(t, err)
}

func TestServiceCatalog_ListOperations(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	handler := func(ctx context.Context, req Request) (Response, error) { return Response{}, nil }

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{Name: "zeta", Handler: handler}))
	require.NoError(t, catalog.RegisterOperation("auth", OperationSpec{Name: "alpha", Handler: handler}))
	catalog.SetRoutable("auth", true)

	list := catalog.ListOperations()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name, "listing is name-sorted")
	assert.True(t, list[0].Routable)
	assert.Equal(t, "zeta", list[1].Name)
	assert.False(t, list[1].Routable,
		"non-running plugins are listed but flagged non-routable")
}

func TestServiceCatalog_DeregisterPlugin(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	handler := func(ctx context.Context, req Request) (Response, error) { return Response{}, nil }

	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{Name: "charge", Handler: handler}))
	require.NoError(t, catalog.RegisterOperation("billing", OperationSpec{Name: "refund", Handler: handler}))
	catalog.SetRoutable("billing", true)

	assert.Equal(t, []string{"charge", "refund"}, catalog.Operations("billing"))

	catalog.DeregisterPlugin("billing")
	assert.Empty(t, catalog.ListOperations())

	_, err := catalog.Route(context.Background(), "charge", Request{})
	assert.Equal(t, string(ErrCodeOperationNotFound), ErrorCode(err))

	// The name is free for re-registration.
	require.NoError(t, catalog.RegisterOperation("payments", OperationSpec{Name: "charge", Handler: handler}))
}

func TestServiceCatalog_InvalidSpec(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	err := catalog.RegisterOperation("billing", OperationSpec{Name: "no-handler"})
	require.Error(t, err)

	err = catalog.RegisterOperation("billing", OperationSpec{
		Handler: func(ctx context.Context, req Request) (Response, error) { return Response{}, nil },
	})
	require.Error(t, err, "an operation needs a name")
}
