package vm

import "github.com/citahub/cita-sub002/common"

// stackLimit is the interpreter's 1024-entry operand stack bound (spec
// §4.1).
const stackLimit = 1024

// Stack is the interpreter's operand stack: 256-bit words, wrapping
// arithmetic, bounded at 1024 entries.
type Stack struct {
	data []*common.U256
}

// NewStack returns a new empty stack.
func NewStack() *Stack {
	return &Stack{data: make([]*common.U256, 0, 16)}
}

// Push pushes val onto the stack. Returns ErrOutOfStack past stackLimit.
func (st *Stack) Push(val *common.U256) error {
	if len(st.data) >= stackLimit {
		return ErrOutOfStack
	}
	st.data = append(st.data, val)
	return nil
}

// Pop removes and returns the top element.
func (st *Stack) Pop() *common.U256 {
	ret := st.data[len(st.data)-1]
	st.data = st.data[:len(st.data)-1]
	return ret
}

// Peek returns the top element without removing it.
func (st *Stack) Peek() *common.U256 {
	return st.data[len(st.data)-1]
}

// Back returns the nth element from the top (0-indexed: 0 = top).
func (st *Stack) Back(n int) *common.U256 {
	return st.data[len(st.data)-1-n]
}

// Swap exchanges the top element with the nth element from the top.
func (st *Stack) Swap(n int) {
	top := len(st.data) - 1
	st.data[top], st.data[top-n] = st.data[top-n], st.data[top]
}

// Dup duplicates the nth element from the top (1-indexed) and pushes it.
func (st *Stack) Dup(n int) {
	val := new(common.U256).Set(st.data[len(st.data)-n])
	st.data = append(st.data, val)
}

// Len returns the number of items on the stack.
func (st *Stack) Len() int { return len(st.data) }

// Data returns the underlying stack slice (bottom to top).
func (st *Stack) Data() []*common.U256 { return st.data }
