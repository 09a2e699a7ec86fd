package model

// PacketState is the state of the aggregate owning a set of jobs.
type PacketState string

const (
	PacketCreated    PacketState = "CREATED"
	PacketWorkable   PacketState = "WORKABLE"
	PacketPending    PacketState = "PENDING"
	PacketSuspended  PacketState = "SUSPENDED"
	PacketError      PacketState = "ERROR"
	PacketSuccessful PacketState = "SUCCESSFUL"
)

// AcceptsUpdates reports whether job outcomes may still change the packet.
func (s PacketState) AcceptsUpdates() bool {
	return s == PacketWorkable || s == PacketPending
}

// Terminal reports whether the packet will run no more jobs.
func (s PacketState) Terminal() bool {
	switch s {
	case PacketError, PacketSuccessful, PacketSuspended:
		return true
	default:
		return false
	}
}
