package replay

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return nil
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,<,4745545f4c4f434154494f4e0a
10, >, 33372e302c2d3132322e300a
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Data != nil {
		t.Fatalf("expected START marker, got %v", recs[0])
	}
	if recs[1].Dir != FromPeer || string(recs[1].Data) != "GET_LOCATION\n" {
		t.Fatalf("record 1=%+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || recs[2].Dir != ToPeer || string(recs[2].Data) != "37.0,-122.0\n" {
		t.Fatalf("record 2=%+v", recs[2])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line\n",
		"10,?,00\n",
		"-1,<,00\n",
		"0,<,zz\n",
		"0,<,\n",
	}
	for _, in := range cases {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_FiltersDirectionAndRespectsTiming(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: time.Second},
		{At: time.Second, Dir: FromPeer, Data: []byte("A\n")},
		{At: time.Second + 50*time.Millisecond, Dir: ToPeer, Data: []byte("x\n")},
		{At: time.Second + 100*time.Millisecond, Dir: FromPeer, Data: []byte("B\n")},
		{At: 5 * time.Second},
		{At: 5*time.Second + 20*time.Millisecond, Dir: FromPeer, Data: []byte("C\n")},
	}

	var got []string
	err := Play(context.Background(), recs, FromPeer, 2.0, false, fs, func(p []byte) error {
		got = append(got, string(p))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"A\n", "B\n", "C\n"}) {
		t.Fatalf("got=%q", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Millisecond}) {
		t.Fatalf("slept=%v", fs.slept)
	}
}

func TestPlay_RejectsBadArgs(t *testing.T) {
	recs := []Record{{Dir: FromPeer, Data: []byte("A")}}
	if err := Play(context.Background(), recs, FromPeer, 0, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(context.Background(), nil, FromPeer, 1, false, nil, func([]byte) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
	if err := Play(context.Background(), recs, FromPeer, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestPlay_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	recs := []Record{{Dir: FromPeer, Data: []byte("A")}}
	n := 0
	err := Play(ctx, recs, FromPeer, 1, true, &fakeSleeper{}, func([]byte) error {
		n++
		if n == 3 {
			cancel()
		}
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if n != 3 {
		t.Fatalf("callbacks=%d want 3", n)
	}
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.transcript")
	rec, err := CreateRecorder(path)
	if err != nil {
		t.Fatalf("CreateRecorder() error: %v", err)
	}
	now := time.Now()
	rec.nowFn = func() time.Time { return now }

	rec.Inbound([]byte("HELLO\nGET_"))
	rec.Inbound([]byte("LOCATION\n"))
	rec.Outbound([]byte("37.0,-122.0\n"))
	rec.Inbound(nil)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := rec.Write(FromPeer, now, []byte("late")); err == nil {
		t.Fatalf("expected error writing after close")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()
	recs, err := NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}

	var peerBytes strings.Builder
	fs := &fakeSleeper{}
	err = Play(context.Background(), recs, FromPeer, 1, false, fs, func(p []byte) error {
		peerBytes.Write(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if peerBytes.String() != "HELLO\nGET_LOCATION\n" {
		t.Fatalf("peer bytes=%q", peerBytes.String())
	}
	if len(fs.slept) != 0 {
		t.Fatalf("expected no sleeps, got %v", fs.slept)
	}
}
