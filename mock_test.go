package asyncredis

import "sync"

// MockConn is a mock implementation of the Conn interface. Each method
// delegates to a replaceable function field and records its calls.
type MockConn struct {
	mutex sync.Mutex

	CloseFunc              func() error
	CloseFuncCallCount     int
	ErrFunc                func() error
	ErrFuncCallCount       int
	DoFunc                 func(string, ...interface{}) (interface{}, error)
	DoFuncCallCount        int
	DoFuncCallParams       []ConnDoParamSet
	SendFunc               func(string, ...interface{}) error
	SendFuncCallCount      int
	SendFuncCallParams     []ConnSendParamSet
	FlushFunc              func() error
	FlushFuncCallCount     int
	ReceiveFunc            func() (interface{}, error)
	ReceiveFuncCallCount   int
	InterruptFunc          func()
	InterruptFuncCallCount int
}

type ConnDoParamSet struct {
	Arg0 string
	Arg1 []interface{}
}

type ConnSendParamSet struct {
	Arg0 string
	Arg1 []interface{}
}

var _ Conn = NewMockConn()

func NewMockConn() *MockConn {
	return &MockConn{
		CloseFunc:     func() error { return nil },
		ErrFunc:       func() error { return nil },
		DoFunc:        func(string, ...interface{}) (interface{}, error) { return nil, nil },
		SendFunc:      func(string, ...interface{}) error { return nil },
		FlushFunc:     func() error { return nil },
		ReceiveFunc:   func() (interface{}, error) { return nil, nil },
		InterruptFunc: func() {},
	}
}

func (m *MockConn) Close() error {
	m.mutex.Lock()
	m.CloseFuncCallCount++
	f := m.CloseFunc
	m.mutex.Unlock()

	return f()
}

func (m *MockConn) Err() error {
	m.mutex.Lock()
	m.ErrFuncCallCount++
	f := m.ErrFunc
	m.mutex.Unlock()

	return f()
}

func (m *MockConn) Do(v0 string, v1 ...interface{}) (interface{}, error) {
	m.mutex.Lock()
	m.DoFuncCallCount++
	m.DoFuncCallParams = append(m.DoFuncCallParams, ConnDoParamSet{v0, v1})
	f := m.DoFunc
	m.mutex.Unlock()

	return f(v0, v1...)
}

func (m *MockConn) Send(v0 string, v1 ...interface{}) error {
	m.mutex.Lock()
	m.SendFuncCallCount++
	m.SendFuncCallParams = append(m.SendFuncCallParams, ConnSendParamSet{v0, v1})
	f := m.SendFunc
	m.mutex.Unlock()

	return f(v0, v1...)
}

func (m *MockConn) Flush() error {
	m.mutex.Lock()
	m.FlushFuncCallCount++
	f := m.FlushFunc
	m.mutex.Unlock()

	return f()
}

func (m *MockConn) Receive() (interface{}, error) {
	m.mutex.Lock()
	m.ReceiveFuncCallCount++
	f := m.ReceiveFunc
	m.mutex.Unlock()

	return f()
}

func (m *MockConn) Interrupt() {
	m.mutex.Lock()
	m.InterruptFuncCallCount++
	f := m.InterruptFunc
	m.mutex.Unlock()

	f()
}

func (m *MockConn) closeCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.CloseFuncCallCount
}

func (m *MockConn) doCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.DoFuncCallCount
}

func (m *MockConn) doParams() []ConnDoParamSet {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]ConnDoParamSet(nil), m.DoFuncCallParams...)
}
