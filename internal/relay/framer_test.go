package relay

import (
	"errors"
	"testing"
)

func TestFrameLen(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		max  int
		want int
		err  error
	}{
		{name: "nil", in: nil, max: 8, err: ErrNullInput},
		{name: "empty terminated", in: []byte{0}, max: 8, want: 0},
		{name: "empty slice", in: []byte{}, max: 8, want: 0},
		{name: "stops at first terminator", in: []byte("ab\x00cd\x00"), max: 8, want: 2},
		{name: "unterminated uses slice extent", in: []byte("abcd"), max: 8, want: 4},
		{name: "exactly max", in: []byte("abcdefgh\x00"), max: 8, want: 8},
		{name: "over max terminated", in: []byte("abcdefghi\x00"), max: 8, err: ErrOverlong},
		{name: "over max unterminated", in: []byte("abcdefghi"), max: 8, err: ErrOverlong},
		{name: "default max", in: []byte("abc\x00"), max: 0, want: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FrameLen(tc.in, tc.max)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("len=%d want=%d", got, tc.want)
			}
		})
	}
}

func TestStatusMapping(t *testing.T) {
	if Status(nil) != StatusAccepted {
		t.Fatalf("nil must map to accepted")
	}
	if Status(errors.New("other")) != StatusRejected {
		t.Fatalf("unknown error must map to rejected")
	}
}
