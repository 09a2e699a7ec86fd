package notify

import (
	"net/smtp"
	"time"
)

func (n *SMTP) WithSend(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) *SMTP {
	n.send = fn
	return n
}

func (n *SMTP) WithClock(now func() time.Time) *SMTP {
	n.now = now
	return n
}
