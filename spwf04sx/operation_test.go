package spwf04sx

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestSetCommandEncoding(t *testing.T) {
	op := newOperation()
	op.AddParameter("foo").AddParameter("").AddParameter("bar")
	test.That(t, op.SetCommand(CommandSOCKON, nil), test.ShouldBeNil)

	test.That(t, op.Header(), test.ShouldResemble, []byte{
		0x00, 0x0B, byte(CommandSOCKON), 3,
		3, 'f', 'o', 'o',
		0,
		3, 'b', 'a', 'r',
	})
	test.That(t, len(op.header), test.ShouldEqual, 16)

	req, err := DecodeRequestHeader(op.Header())
	test.That(t, err, test.ShouldBeNil)
	expected := Request{
		Command:       CommandSOCKON,
		Params:        []string{"foo", "", "bar"},
		HeaderLength:  13,
		PayloadLength: 0,
	}
	if diff := cmp.Diff(expected, req); diff != "" {
		t.Fatalf("decoded request mismatch (-want +got):\n%s", diff)
	}
}

func TestSetCommandWithPayload(t *testing.T) {
	op := newOperation()
	payload := []byte("hello")
	op.AddParameter("1").AddParameter("5")
	test.That(t, op.SetCommand(CommandSOCKW, payload), test.ShouldBeNil)

	header := op.Header()
	test.That(t, len(header), test.ShouldEqual, 8)
	// The length field counts the payload too.
	test.That(t, int(header[0])<<8|int(header[1]), test.ShouldEqual, 6+len(payload))
	test.That(t, op.Payload(), test.ShouldResemble, payload)

	req, err := DecodeRequestHeader(header)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req.PayloadLength, test.ShouldEqual, len(payload))
	test.That(t, req.Params, test.ShouldResemble, []string{"1", "5"})
}

func TestSetCommandLimits(t *testing.T) {
	op := newOperation()
	for i := 0; i < MaxParameters+1; i++ {
		op.AddParameter("x")
	}
	err := op.SetCommand(CommandSCFG, nil)
	test.That(t, errors.Is(err, ErrTooManyParameters), test.ShouldBeTrue)

	op = newOperation()
	op.AddParameter(strings.Repeat("a", MaxParameterLength+1))
	test.That(t, op.SetCommand(CommandSCFG, nil), test.ShouldNotBeNil)

	op = newOperation()
	test.That(t, op.SetCommand(CommandSOCKW, make([]byte, MaxFrameLength)), test.ShouldNotBeNil)

	op = newOperation()
	for i := 0; i < MaxParameters; i++ {
		op.AddParameter(strings.Repeat("p", 20))
	}
	test.That(t, op.SetCommand(CommandSCFG, nil), test.ShouldBeNil)
	test.That(t, len(op.Header()), test.ShouldEqual, 4+MaxParameters*21)
	test.That(t, len(op.header), test.ShouldEqual, 512)
}

func TestDecodeRequestHeaderErrors(t *testing.T) {
	_, err := DecodeRequestHeader([]byte{0, 2})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = DecodeRequestHeader([]byte{0, 4, byte(CommandWIFI), 1, 5, 'a'})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "truncated")

	_, err = DecodeRequestHeader([]byte{0, 2, byte(CommandWIFI), 0, 0xFF})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResponseHeader(t *testing.T) {
	h := ResponseHeader{Type: FrameIndication, State: StateReadyToTransmit, Code: byte(IndicationWiFiUp), Length: 0x0102}
	raw := h.Bytes()
	test.That(t, raw, test.ShouldResemble, []byte{0x1A, byte(IndicationWiFiUp), 0x02, 0x01})

	parsed, err := ParseResponseHeader(raw)
	test.That(t, err, test.ShouldBeNil)
	if diff := cmp.Diff(h, parsed); diff != "" {
		t.Fatalf("parsed header mismatch (-want +got):\n%s", diff)
	}
	test.That(t, parsed.Type.Unsolicited(), test.ShouldBeTrue)
	test.That(t, FrameResponse.Unsolicited(), test.ShouldBeFalse)
	test.That(t, FrameType(0x07).Unsolicited(), test.ShouldBeFalse)

	_, err = ParseResponseHeader(raw[:3])
	test.That(t, err, test.ShouldNotBeNil)
}

func readyOperation(bufferSize int) (*Operation, *session) {
	op := newOperation()
	op.bind(NewBuffer(bufferSize))
	sess := newSession()
	op.attach(sess)
	return op, sess
}

func TestOperationReads(t *testing.T) {
	op, _ := readyOperation(64)
	op.markWritten()
	test.That(t, op.DataAvailable(), test.ShouldBeFalse)

	test.That(t, op.deposit([]byte("hello")), test.ShouldBeNil)
	test.That(t, op.deposit([]byte("Query:12")), test.ShouldBeNil)
	test.That(t, op.deposit(nil), test.ShouldBeNil)
	test.That(t, op.DataAvailable(), test.ShouldBeTrue)

	n, err := op.Peek()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 5)

	dst := make([]byte, 3)
	n, err = op.ReadBuffer(dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
	test.That(t, string(dst), test.ShouldEqual, "hel")

	// The rest of a partially read chunk is still the next chunk.
	n, err = op.Peek()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	n, err = op.ReadBuffer(dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, string(dst[:n]), test.ShouldEqual, "lo")

	s, err := op.ReadString()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldEqual, "Query:12")

	n, err = op.Discard()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, op.DataAvailable(), test.ShouldBeFalse)
	test.That(t, op.Buffer().AvailableRead(), test.ShouldEqual, 0)
}

func TestOperationReadBlocksUntilChunk(t *testing.T) {
	op, _ := readyOperation(64)

	result := make(chan string, 1)
	go func() {
		s, err := op.ReadString()
		if err != nil {
			result <- err.Error()
			return
		}
		result <- s
	}()

	// Data is not handed out before the request is written.
	test.That(t, op.deposit([]byte("early")), test.ShouldBeNil)
	select {
	case s := <-result:
		t.Fatalf("read returned %q before the operation was written", s)
	case <-time.After(20 * time.Millisecond):
	}

	op.markWritten()
	select {
	case s := <-result:
		test.That(t, s, test.ShouldEqual, "early")
	case <-time.After(5 * time.Second):
		t.Fatal("read did not wake up")
	}
}

func TestOperationReadStops(t *testing.T) {
	op, sess := readyOperation(64)
	op.markWritten()

	errCh := make(chan error, 1)
	go func() {
		_, err := op.ReadString()
		errCh <- err
	}()
	sess.stop(ErrStopped)
	select {
	case err := <-errCh:
		test.That(t, errors.Is(err, ErrStopped), test.ShouldBeTrue)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not observe stop")
	}

	_, err := newOperation().ReadString()
	test.That(t, errors.Is(err, ErrNotEnqueued), test.ShouldBeTrue)
}

func TestOperationDepositOverflow(t *testing.T) {
	op, _ := readyOperation(4)
	err := op.deposit([]byte("too long"))
	test.That(t, errors.Is(err, ErrProtocolViolation), test.ShouldBeTrue)
}
