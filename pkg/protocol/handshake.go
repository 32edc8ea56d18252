package protocol

import (
	"fmt"
	"io"
)

// WriteLogin writes the raw login handshake. It carries no header tag and is
// the first thing a client sends after connecting.
func WriteLogin(w io.Writer, username, password string) error {
	e := &encoder{}
	e.bytes([]byte(username), MaxHandshakeField)
	e.bytes([]byte(password), MaxHandshakeField)
	if e.err != nil {
		return fmt.Errorf("protocol: login: %w", e.err)
	}
	if _, err := w.Write(e.buf); err != nil {
		return fmt.Errorf("protocol: write login: %w", err)
	}
	return nil
}

// ReadLogin reads the raw login handshake: a length-prefixed username
// followed by a length-prefixed server password.
func ReadLogin(r io.Reader) (username, password string, err error) {
	d := &decoder{r: r}
	user, err := d.bytes(MaxHandshakeField)
	if err != nil {
		return "", "", err
	}
	pass, err := d.bytes(MaxHandshakeField)
	if err != nil {
		return "", "", err
	}
	return string(user), string(pass), nil
}
