// Package mocks provides test doubles for the google client.
package mocks

import (
	"context"

	google "github.com/sells-group/vision-cli/pkg/google"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Annotate provides a mock function with given fields: ctx, image, features
func (_m *MockClient) Annotate(ctx context.Context, image []byte, features []google.Feature) (*google.AnnotateImageResponse, error) {
	ret := _m.Called(ctx, image, features)

	if len(ret) == 0 {
		panic("no return value specified for Annotate")
	}

	var r0 *google.AnnotateImageResponse
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, []byte, []google.Feature) (*google.AnnotateImageResponse, error)); ok {
		return rf(ctx, image, features)
	}
	if rf, ok := ret.Get(0).(func(context.Context, []byte, []google.Feature) *google.AnnotateImageResponse); ok {
		r0 = rf(ctx, image, features)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*google.AnnotateImageResponse)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, []byte, []google.Feature) error); ok {
		r1 = rf(ctx, image, features)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
