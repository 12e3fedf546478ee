package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/unifyos/unify/pkg/eventbus"
	"github.com/unifyos/unify/pkg/models"
	"github.com/unifyos/unify/pkg/protocol"
)

// MockActionExecutor is a mock implementation of protocol.ActionExecutor interface.
type MockActionExecutor struct {
	mock.Mock

	AppID         string
	Token         bool
	ExecutorTasks []protocol.Task
}

func (m *MockActionExecutor) App() string { return m.AppID }

func (m *MockActionExecutor) Name() string { return m.AppID }

func (m *MockActionExecutor) Tasks() []protocol.Task { return m.ExecutorTasks }

func (m *MockActionExecutor) RequiresToken() bool { return m.Token }

func (m *MockActionExecutor) Execute(ctx context.Context, req protocol.Request) (map[string]any, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

// MockCredentialStore is a mock implementation of credentials.Store interface.
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Token(ctx context.Context, userID, app string) (*models.Token, error) {
	args := m.Called(ctx, userID, app)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockCredentialStore) Connected(ctx context.Context, userID, app string) (bool, error) {
	args := m.Called(ctx, userID, app)

	return args.Bool(0), args.Error(1)
}

// MockEventPublisher is a mock implementation of eventbus.EventPublisher interface.
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}
