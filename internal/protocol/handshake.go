package protocol

import (
	"crypto/subtle"
	"errors"
	"io"
)

var ErrHandshakeFailed = errors.New("secret handshake failed")

// handshakeOK is sent by the daemon once the secret matched.
var handshakeOK = []byte("ok")

// VerifyPeer runs the daemon side of the handshake: read the client's
// secret frame, compare in constant time, and acknowledge. On mismatch
// the caller closes the connection without a reply.
func VerifyPeer(rw io.ReadWriter, secret []byte) error {
	received, err := ReadFrame(rw)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(received, secret) != 1 {
		return ErrHandshakeFailed
	}
	return WriteFrame(rw, handshakeOK)
}

// Authenticate runs the client side of the handshake: send the secret as
// the first frame and wait for the daemon's acknowledgement.
func Authenticate(rw io.ReadWriter, secret []byte) error {
	if err := WriteFrame(rw, secret); err != nil {
		return err
	}
	reply, err := ReadFrame(rw)
	if err != nil {
		return ErrHandshakeFailed
	}
	if string(reply) != string(handshakeOK) {
		return ErrHandshakeFailed
	}
	return nil
}
