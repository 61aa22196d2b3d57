package forward

import (
	"time"

	"github.com/meshbox/cloudhub/protocol"
	"github.com/meshbox/cloudhub/stp"
)

// AckTimeout is how long a sender waits for ACK-SEQUENCE before
// retransmitting the last frame (original_source/timer.h's
// ACK_TIMEOUT_MSEC).
const AckTimeout = 100 * time.Millisecond

// MaxSequenceError is the consecutive-mismatch threshold past which the
// receiver forcibly resyncs its expected counter to the sender's
// (original_source/sequence.h's MAX_SEQUENCE_ERROR).
const MaxSequenceError = 16

// BeginSend arms the optional lock-step flow control before a payload
// send (§4.8): stamps the next send sequence, marks the link as
// awaiting an ack, and remembers the payload for retransmission.
func BeginSend(link *stp.Link, payload []byte) protocol.Sequence {
	link.SendSeq++
	link.AwaitingAck = true
	link.LastSentPayload = append([]byte(nil), payload...)
	return protocol.Sequence{SendSeq: link.SendSeq, MessageLen: uint16(len(payload))}
}

// HandleAckSequence processes an incoming ACK-SEQUENCE on the sender
// side. It returns true iff the ack matches the outstanding send,
// clearing AwaitingAck; a mismatched ack is ignored (the retransmit
// timer will fire instead).
func HandleAckSequence(link *stp.Link, ack protocol.AckSequence) bool {
	if !link.AwaitingAck {
		return false
	}
	if ack.SendSeq != link.SendSeq || ack.MessageLen != uint16(len(link.LastSentPayload)) {
		return false
	}
	link.AwaitingAck = false
	return true
}

// ShouldRetransmit reports whether an outstanding send has exceeded
// AckTimeout without an ack, per §4.8's retransmission rule.
func ShouldRetransmit(link *stp.Link, sentAt, now time.Time) bool {
	return link.AwaitingAck && now.Sub(sentAt) >= AckTimeout
}

// HandleSequence processes an incoming SEQUENCE frame on the receiver
// side (§4.8): if it matches the expected counter, the counter
// advances and the mismatch count resets; otherwise the mismatch count
// increments, and on reaching MaxSequenceError the expected counter is
// forcibly resynchronized to the sender's value. Either way the
// receiver answers with ACK-SEQUENCE echoing the same (send_seq,
// message_len).
func HandleSequence(link *stp.Link, seq protocol.Sequence) (ack protocol.AckSequence, resynced bool) {
	if seq.SendSeq == link.ExpectSeq {
		link.ExpectSeq++
		link.RecvSeqErr = 0
	} else {
		link.RecvSeqErr++
		if link.RecvSeqErr >= MaxSequenceError {
			link.ExpectSeq = seq.SendSeq + 1
			link.RecvSeqErr = 0
			resynced = true
		}
	}
	return protocol.AckSequence{SendSeq: seq.SendSeq, MessageLen: seq.MessageLen}, resynced
}
