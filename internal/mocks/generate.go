// Package mocks provides mock implementations of the collaborator interfaces in
// internal/core for testing the orchestration services.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	client := mocks.NewMockRemoteOperationClient(ctrl)
//	client.EXPECT().GetDeploymentStatus(gomock.Any(), "tenant-a", "dep-1").Return(model.DeploymentSucceeded, nil)
package mocks

// Generate mock for RemoteOperationClient interface from internal/core package.
// This creates MockRemoteOperationClient with methods for all RemoteOperationClient interface methods:
// PerformTransferChunk, GetDeploymentStatus, StartCompletion, StartReset
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=remote_operation_client_mock.go github.com/dxpops/conductor/internal/core RemoteOperationClient

// Generate mock for CredentialResolver interface from internal/core package.
// This creates MockCredentialResolver with methods for all CredentialResolver interface methods:
// Resolve
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=credential_resolver_mock.go github.com/dxpops/conductor/internal/core CredentialResolver

// Generate mock for WebhookSender interface from internal/core package.
// This creates MockWebhookSender with methods for all WebhookSender interface methods:
// Send
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=webhook_sender_mock.go github.com/dxpops/conductor/internal/core WebhookSender

// Generate mock for AuditStore interface from internal/core package.
// This creates MockAuditStore with methods for all AuditStore interface methods:
// Append, Query, DeleteBefore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=audit_store_mock.go github.com/dxpops/conductor/internal/core AuditStore

// Generate mock for Operations interface from internal/core package.
// This creates MockOperations with methods for the whole operations facade used by the HTTP API.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=operations_mock.go github.com/dxpops/conductor/internal/core Operations
