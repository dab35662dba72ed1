package proc

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"ipl"
)

func withPanicOutput(t *testing.T) *bytes.Buffer {
	saved := PanicOutput
	buf := &bytes.Buffer{}
	PanicOutput = buf
	t.Cleanup(func() { PanicOutput = saved })
	return buf
}

func TestCpuPanicDumpsCpuThreadAndBacktrace(t *testing.T) {
	buf := withPanicOutput(t)
	cpu := NewCpu(7)
	cpu.CurThread = &Thread{Tid: 42}

	require.PanicsWithValue(t, "something went wrong", func() {
		cpu.Panic("something went wrong")
	})

	out := buf.String()
	require.Contains(t, out, "cpu7")
	require.Contains(t, out, strconv.Itoa(42))
	require.Contains(t, out, "panic_test.go")
}

func TestCpuPanicReportsNoThreadWhenIdle(t *testing.T) {
	buf := withPanicOutput(t)
	cpu := NewCpu(9)

	require.Panics(t, func() { cpu.Panic("idle fault") })
	require.Contains(t, buf.String(), "thread -1")
}

func TestHandleInterruptDispatchesRegisteredHandler(t *testing.T) {
	cpu := NewCpu(11)
	called := false
	cpu.Intr.Register(5, ipl.Soft, func(any) { called = true }, nil)

	cpu.HandleInterrupt(5)
	require.True(t, called)
}

func TestHandleInterruptTurnsHandlerPanicIntoCpuPanicDump(t *testing.T) {
	buf := withPanicOutput(t)
	cpu := NewCpu(12)
	cpu.Intr.Register(6, ipl.Hard, func(any) { panic("bad handler") }, nil)

	require.Panics(t, func() { cpu.HandleInterrupt(6) })
	out := buf.String()
	require.Contains(t, out, "cpu12")
	require.Contains(t, out, "vector 6")
	require.Contains(t, out, "bad handler")
}

func TestHandleInterruptReschedulesWhenPreempted(t *testing.T) {
	cpu := NewCpu(13)
	task := &Task{Name: "t"}
	th, _ := ThreadNew(task)
	ran := false
	th.Goto(func() { ran = true })
	th.Run(cpu)

	cpu.Intr.Register(7, ipl.Soft, func(any) {}, nil)
	cpu.Preempted = true
	cpu.HandleInterrupt(7)

	require.True(t, ran)
	require.False(t, cpu.Preempted)
}
