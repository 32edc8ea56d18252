package protocol_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

func allKinds() map[string]protocol.Message {
	return map[string]protocol.Message{
		"login_ok":      protocol.LoginResult{Status: protocol.LoginOK, Message: "media-server"},
		"login_banned":  protocol.LoginResult{Status: protocol.LoginBanned, Message: "you are banned"},
		"user_list":     protocol.UserList{Names: []string{"alice", "bob", "Carol"}},
		"user_list_nil": protocol.UserList{},
		"user_added":    protocol.UserAdded{Name: "alice"},
		"user_removed":  protocol.UserRemoved{Name: "bob"},
		"kicked":        protocol.Kicked{Kind: model.PunishBan, Reason: "banned by admin"},
		"server_error":  protocol.ServerError{Message: "unexpected message"},
		"invalid":       protocol.Invalid{},
		"chat":          protocol.Chat{Sender: "alice", Text: "hi"},
		"chat_unicode":  protocol.Chat{Sender: "zoë", Text: "grüße 🎵"},
		"private":       protocol.PrivateChat{Sender: "alice", Receiver: "bob", Text: "psst"},
		"ft_request": protocol.FileTransfer{
			Stage: protocol.StageRequest, Peer: "bob", FileName: "song.mp3", Size: 1000,
		},
		"ft_response": protocol.FileTransfer{
			Stage: protocol.StageResponse, ID: 7, Peer: "alice", FileName: "song.mp3", Result: protocol.ResultSuccess,
		},
		"ft_data": protocol.FileTransfer{
			Stage: protocol.StageData, ID: 7, Peer: "alice", FileName: "song.mp3",
			Index: 2, Total: 5, Data: []byte{0, 1, 2, 3, 0xff},
		},
		"ft_end": protocol.FileTransfer{
			Stage: protocol.StageEnd, ID: 7, Peer: "alice", FileName: "song.mp3", Result: protocol.ResultFailure,
		},
		"ft_done": protocol.FileTransfer{
			Stage: protocol.StageDone, ID: 7, Peer: "bob", FileName: "song.mp3", Result: protocol.ResultSuccess,
		},
		"ft_error": protocol.FileTransfer{
			Stage: protocol.StageError, ID: 7, Peer: "bob", FileName: "song.mp3", Reason: "disk full",
		},
		"admin_login":   protocol.AdminLogin{Password: "secret", Result: protocol.ResultInvalid},
		"punish_list_q": protocol.AdminPunishList{},
		"punish_list": protocol.AdminPunishList{Result: protocol.ResultSuccess, Records: []model.Punishment{
			{Address: "10.0.0.1", Username: "troll", Kind: model.PunishBan},
			{Address: "10.0.0.2", Username: "loud", Kind: model.PunishMute},
		}},
		"punish": protocol.AdminPunish{
			Kind: model.PunishMute, Target: "loud", Address: "10.0.0.2", Result: protocol.ResultSuccess,
		},
		"remove_punishment": protocol.AdminRemovePunishment{
			Kind: model.PunishBan, Address: "10.0.0.1", Result: protocol.ResultFailure,
		},
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for name, msg := range allKinds() {
		t.Run(name, func(t *testing.T) {
			data, err := protocol.Encode(msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if got := protocol.Tag(data[:protocol.TagSize]); got != msg.Tag() {
				t.Fatalf("header tag = %q, want %q", got, msg.Tag())
			}

			got, err := protocol.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(msg, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeStream(t *testing.T) {
	var buf bytes.Buffer
	want := []protocol.Message{
		protocol.Chat{Sender: "alice", Text: "one"},
		protocol.UserAdded{Name: "bob"},
		protocol.Chat{Sender: "bob", Text: "two"},
	}
	for _, m := range want {
		if err := protocol.Write(&buf, m); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	for i, w := range want {
		got, err := protocol.Decode(&buf)
		if err != nil {
			t.Fatalf("Decode #%d: %v", i, err)
		}
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("message #%d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := protocol.Decode(&buf); err != io.EOF {
		t.Fatalf("Decode after last message = %v, want io.EOF", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := protocol.Encode(protocol.PrivateChat{Sender: "alice", Receiver: "bob", Text: "hello there"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for _, n := range []int{1, 3, 4, 6, 10, len(data) - 1} {
		_, err := protocol.Decode(bytes.NewReader(data[:n]))
		if !errors.Is(err, protocol.ErrTruncatedStream) {
			t.Errorf("Decode(%d of %d bytes) = %v, want ErrTruncatedStream", n, len(data), err)
		}
	}
}

func TestDecodeViolations(t *testing.T) {
	be := func(v int32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v))
		return b
	}
	cat := func(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

	tests := map[string][]byte{
		"unknown_tag":        []byte("4242"),
		"negative_length":    cat([]byte("0100"), be(-1)),
		"oversized_length":   cat([]byte("0100"), be(protocol.MaxStringLength+1)),
		"bad_stage":          cat([]byte("0300"), []byte{9}),
		"bad_result":         cat([]byte("0800"), be(0), []byte{5}),
		"bad_login_status":   cat([]byte("0001"), []byte{0}),
		"bad_punish_tag":     cat([]byte("0810"), []byte("JAIL")),
		"negative_count":     cat([]byte("0905"), be(-3)),
		"oversized_segment":  cat([]byte("0300"), []byte{3}, be(1), be(0), be(0), be(1), be(1), be(protocol.MaxSegmentSize+1)),
		"negative_seg_index": cat([]byte("0300"), []byte{3}, be(1), be(0), be(0), be(-1), be(1)),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.Decode(bytes.NewReader(data))
			if !errors.Is(err, protocol.ErrProtocolViolation) {
				t.Fatalf("Decode = %v, want ErrProtocolViolation", err)
			}
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := map[string]protocol.Message{
		"bad_stage":     protocol.FileTransfer{Stage: 0},
		"bad_kind":      protocol.AdminPunish{Kind: 0, Target: "x"},
		"huge_segment":  protocol.FileTransfer{Stage: protocol.StageData, Data: make([]byte, protocol.MaxSegmentSize+1)},
		"nil_interface": nil,
	}
	for name, m := range tests {
		if _, err := protocol.Encode(m); err == nil {
			t.Errorf("%s: Encode succeeded, want error", name)
		}
	}
}

func TestLoginHandshake(t *testing.T) {
	var buf bytes.Buffer
	if err := protocol.WriteLogin(&buf, "alice", "hunter2"); err != nil {
		t.Fatalf("WriteLogin: %v", err)
	}
	// No header tag: the first four bytes are the username length.
	if n := binary.BigEndian.Uint32(buf.Bytes()[:4]); n != 5 {
		t.Fatalf("username length prefix = %d, want 5", n)
	}

	user, pass, err := protocol.ReadLogin(&buf)
	if err != nil {
		t.Fatalf("ReadLogin: %v", err)
	}
	if user != "alice" || pass != "hunter2" {
		t.Fatalf("ReadLogin = %q/%q, want alice/hunter2", user, pass)
	}

	_, _, err = protocol.ReadLogin(bytes.NewReader([]byte{0, 0, 0, 5, 'a'}))
	if !errors.Is(err, protocol.ErrTruncatedStream) {
		t.Fatalf("ReadLogin(truncated) = %v, want ErrTruncatedStream", err)
	}
	_, _, err = protocol.ReadLogin(bytes.NewReader([]byte{0x7f, 0, 0, 0}))
	if !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("ReadLogin(oversized) = %v, want ErrProtocolViolation", err)
	}
}
