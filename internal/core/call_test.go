package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func newTestCallMachine(t *testing.T, rec *sendRecorder) (*CallMachine, *Loop, *clock.Mock, *fakeMedia) {
	t.Helper()

	loop := newTestLoop(t)
	mock := clock.NewMock()
	media := &fakeMedia{}
	machine := NewCallMachine(testLogger(), loop, mock, rec.send,
		func(callID string) (Media, error) { return media, nil },
		30*time.Second)
	return machine, loop, mock, media
}

func remoteDescription(sdpType webrtc.SDPType) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: sdpType, SDP: "v=0 remote"}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestCallerHappyPath(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	var callID string
	loop.DoWait(func() {
		var err error
		callID, err = machine.StartCall("c1")
		req.NoError(err)
	})
	req.Equal([]string{proto.KindCallOffer}, rec.kinds())

	loop.DoWait(func() {
		info, ok := machine.Session()
		req.True(ok)
		req.Equal(CallAwaitingAnswer, info.State)
		req.Equal(RoleCaller, info.LocalRole)
	})

	loop.DoWait(func() {
		machine.ReceiveAnswer(proto.CallAnswer{CallID: callID, Description: remoteDescription(webrtc.SDPTypeAnswer)})
		info, _ := machine.Session()
		req.Equal(CallNegotiatingICE, info.State)

		// Both descriptions set but no connectivity yet: not active.
		machine.ReceiveICECandidate(proto.CallICE{CallID: callID, Candidate: candidate("a")})
		info, _ = machine.Session()
		req.Equal(CallNegotiatingICE, info.State)

		machine.ConnectivityEstablished(callID)
		info, _ = machine.Session()
		req.Equal(CallActive, info.State)
	})
}

func TestConnectivityAloneDoesNotActivate(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		callID, err := machine.StartCall("c1")
		req.NoError(err)

		// Connectivity before the remote description must not activate.
		machine.ConnectivityEstablished(callID)
		info, _ := machine.Session()
		req.Equal(CallAwaitingAnswer, info.State)

		machine.ReceiveAnswer(proto.CallAnswer{CallID: callID, Description: remoteDescription(webrtc.SDPTypeAnswer)})
		info, _ = machine.Session()
		req.Equal(CallActive, info.State)
	})
}

func TestICEBufferedUntilDescriptionsThenFlushedOnce(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, media := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		callID, err := machine.StartCall("c1")
		req.NoError(err)

		// Remote description not set yet: candidates buffer.
		machine.ReceiveICECandidate(proto.CallICE{CallID: callID, Candidate: candidate("early-1")})
		machine.ReceiveICECandidate(proto.CallICE{CallID: callID, Candidate: candidate("early-2")})
		req.Empty(media.candidates)

		machine.ReceiveAnswer(proto.CallAnswer{CallID: callID, Description: remoteDescription(webrtc.SDPTypeAnswer)})
		req.Len(media.candidates, 2)

		// Later candidates apply directly; the buffer is not replayed.
		machine.ReceiveICECandidate(proto.CallICE{CallID: callID, Candidate: candidate("late")})
		req.Len(media.candidates, 3)
	})
}

func TestNegotiationTimeoutThenLateAnswerIgnored(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, mock, media := newTestCallMachine(t, rec)
	feed := machine.Subscribe()

	var callID string
	loop.DoWait(func() {
		var err error
		callID, err = machine.StartCall("c1")
		req.NoError(err)
	})

	mock.Add(31 * time.Second)
	loop.DoWait(func() {
		_, ok := machine.Session()
		req.False(ok)
	})
	req.True(media.closed)
	req.Equal([]string{proto.KindCallOffer, proto.KindCallEnd}, rec.kinds())

	var ended Change
	for {
		ended = mustChange(t, feed, ChangeCall)
		if ended.Call.State == CallEnded {
			break
		}
	}
	req.Equal(EndReasonTimeout, ended.Call.EndReason)

	// The late answer finds no session and is dropped.
	loop.DoWait(func() {
		machine.ReceiveAnswer(proto.CallAnswer{CallID: callID, Description: remoteDescription(webrtc.SDPTypeAnswer)})
		_, ok := machine.Session()
		req.False(ok)
	})
}

func TestCalleeAcceptPath(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, media := newTestCallMachine(t, rec)

	offer := proto.CallOffer{
		CallID:         "call-1",
		ConversationID: "c1",
		Description:    remoteDescription(webrtc.SDPTypeOffer),
	}

	loop.DoWait(func() {
		machine.ReceiveOffer(offer)
		info, ok := machine.Session()
		req.True(ok)
		req.Equal(CallIncomingOffer, info.State)
		req.Equal(RoleCallee, info.LocalRole)

		// Candidates racing ahead of accept buffer against the session.
		machine.ReceiveICECandidate(proto.CallICE{CallID: "call-1", Candidate: candidate("early")})

		req.NoError(machine.AcceptCall())
		info, _ = machine.Session()
		req.Equal(CallNegotiatingICE, info.State)
		req.NotNil(media.remote)
		req.Len(media.candidates, 1)

		machine.ConnectivityEstablished("call-1")
		info, _ = machine.Session()
		req.Equal(CallActive, info.State)
	})
	req.Equal([]string{proto.KindCallAnswer}, rec.kinds())
}

func TestCalleeRejectPath(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		machine.ReceiveOffer(proto.CallOffer{
			CallID:         "call-1",
			ConversationID: "c1",
			Description:    remoteDescription(webrtc.SDPTypeOffer),
		})
		req.NoError(machine.RejectCall())
		_, ok := machine.Session()
		req.False(ok)
	})

	sent := rec.sent()
	req.Equal([]string{proto.KindCallEnd}, rec.kinds())
	var end proto.CallEnd
	req.NoError(proto.Decode(sent[0], &end))
	req.Equal(EndReasonRejected, end.Reason)
}

func TestSecondCallRefused(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		_, err := machine.StartCall("c1")
		req.NoError(err)

		_, err = machine.StartCall("c1")
		req.ErrorIs(err, ErrConcurrentCall)

		_, err = machine.StartCall("c2")
		req.ErrorIs(err, ErrInvalidState)
	})
}

func TestBusyDeclinesSecondIncomingOffer(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		_, err := machine.StartCall("c1")
		req.NoError(err)

		machine.ReceiveOffer(proto.CallOffer{
			CallID:         "other-call",
			ConversationID: "c2",
			Description:    remoteDescription(webrtc.SDPTypeOffer),
		})

		// The live session is untouched.
		info, ok := machine.Session()
		req.True(ok)
		req.Equal(CallAwaitingAnswer, info.State)
	})

	sent := rec.sent()
	req.Equal([]string{proto.KindCallOffer, proto.KindCallEnd}, rec.kinds())
	var end proto.CallEnd
	req.NoError(proto.Decode(sent[1], &end))
	req.Equal("other-call", end.CallID)
	req.Equal(EndReasonBusy, end.Reason)
}

func TestRemoteHangup(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, media := newTestCallMachine(t, rec)
	feed := machine.Subscribe()

	loop.DoWait(func() {
		callID, err := machine.StartCall("c1")
		req.NoError(err)
		machine.ReceiveEnd(proto.CallEnd{CallID: callID, Reason: EndReasonRemoteHangup})
		_, ok := machine.Session()
		req.False(ok)
	})

	req.True(media.closed)
	// No end event echoes back to the remote side.
	req.Equal([]string{proto.KindCallOffer}, rec.kinds())

	var ended Change
	for {
		ended = mustChange(t, feed, ChangeCall)
		if ended.Call.State == CallEnded {
			break
		}
	}
	req.Equal(EndReasonRemoteHangup, ended.Call.EndReason)
}

func TestAcceptWithoutRingingCall(t *testing.T) {
	req := require.New(t)
	rec := &sendRecorder{}
	machine, loop, _, _ := newTestCallMachine(t, rec)

	loop.DoWait(func() {
		req.ErrorIs(machine.AcceptCall(), ErrInvalidState)
		req.ErrorIs(machine.RejectCall(), ErrInvalidState)
		req.ErrorIs(machine.EndCall(""), ErrInvalidState)
	})
}
