package defs

// Tid_t identifies a single thread, unique for the lifetime of the system.
type Tid_t int64

// Pid_t identifies a task (the container of one or more threads).
type Pid_t int64
