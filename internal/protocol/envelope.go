package protocol

import (
	"encoding/json"
	"fmt"

	"peerclass/pkg/types"
)

// Kind discriminates decoded messages. Decoding is exhaustive over the wire
// type tags; anything else maps to KindUnknown rather than an error so newer
// peers can add message types without breaking older ones.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionRequest
	KindConnectionApproved
	KindSessionInfo
	KindStartAssessment
	KindSubmissionMetadata
	KindAssessmentResult
	KindFeedbackAck
	KindSessionEnd
)

func (k Kind) String() string {
	switch k {
	case KindConnectionRequest:
		return types.MessageTypeConnectionRequest
	case KindConnectionApproved:
		return types.MessageTypeConnectionApproved
	case KindSessionInfo:
		return types.MessageTypeSessionInfo
	case KindStartAssessment:
		return types.MessageTypeStartAssessment
	case KindSubmissionMetadata:
		return types.MessageTypeSubmissionMetadata
	case KindAssessmentResult:
		return types.MessageTypeAssessmentResult
	case KindFeedbackAck:
		return types.MessageTypeFeedbackAck
	case KindSessionEnd:
		return types.MessageTypeSessionEndData
	default:
		return "UNKNOWN"
	}
}

// Envelope is the single wire wrapper for every non-file message. The nested
// payload travels as a JSON string so the envelope schema never changes when
// payload schemas do.
type Envelope struct {
	Type        string `json:"type"`
	JSONPayload string `json:"jsonPayload"`
}

// ConnectionRequest carries a student's join handshake.
type ConnectionRequest struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	PIN         string `json:"pin"`
}

// SessionInfo supplies session metadata after tutor approval. Until it
// arrives the student treats descriptor fields from discovery as unavailable.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	TutorName string `json:"tutorName"`
	ClassName string `json:"className"`
}

// FeedbackAck confirms receipt of delivered feedback. It is the only trigger
// that advances a submission past SENT_PENDING_ACK.
type FeedbackAck struct {
	SubmissionID string `json:"submissionId"`
}

// AssessmentResult ships a graded submission back to the student together
// with attendance and session/class snapshots.
type AssessmentResult struct {
	Submission *types.AssessmentSubmission `json:"submission"`
	Session    *types.Session              `json:"session"`
	Class      *types.ClassProfile         `json:"class"`
	Attendance []types.AttendanceRecord    `json:"attendance"`
}

// SessionEndData is broadcast when the tutor ends the session.
type SessionEndData struct {
	Session    *types.Session           `json:"session"`
	Class      *types.ClassProfile      `json:"class"`
	Attendance []types.AttendanceRecord `json:"attendance"`
}

// Message is the tagged union produced by Decode. Exactly the field matching
// Kind is non-nil; KindConnectionApproved carries no payload.
type Message struct {
	Kind              Kind
	ConnectionRequest *ConnectionRequest
	SessionInfo       *SessionInfo
	StartAssessment   *types.Assessment
	Submission        *types.AssessmentSubmission
	AssessmentResult  *AssessmentResult
	FeedbackAck       *FeedbackAck
	SessionEnd        *SessionEndData
}

// encode wraps a payload in an envelope and marshals it. Deterministic:
// encoding the same payload twice yields identical bytes.
func encode(msgType string, payload interface{}) ([]byte, error) {
	inner := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		inner = string(data)
	}
	data, err := json.Marshal(Envelope{Type: msgType, JSONPayload: inner})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// EncodeConnectionRequest encodes a CONNECTION_REQUEST envelope.
func EncodeConnectionRequest(req ConnectionRequest) ([]byte, error) {
	return encode(types.MessageTypeConnectionRequest, req)
}

// EncodeConnectionApproved encodes a CONNECTION_APPROVED envelope.
func EncodeConnectionApproved() ([]byte, error) {
	return encode(types.MessageTypeConnectionApproved, struct{}{})
}

// EncodeSessionInfo encodes a SESSION_INFO envelope.
func EncodeSessionInfo(info SessionInfo) ([]byte, error) {
	return encode(types.MessageTypeSessionInfo, info)
}

// EncodeStartAssessment encodes a START_ASSESSMENT envelope. The caller is
// responsible for stripping marking guides before distribution.
func EncodeStartAssessment(assessment *types.Assessment) ([]byte, error) {
	return encode(types.MessageTypeStartAssessment, assessment)
}

// EncodeSubmissionMetadata encodes a SUBMISSION_METADATA envelope. Image
// bytes never travel here; answers reference filenames delivered as framed
// files.
func EncodeSubmissionMetadata(submission *types.AssessmentSubmission) ([]byte, error) {
	return encode(types.MessageTypeSubmissionMetadata, submission)
}

// EncodeAssessmentResult encodes an ASSESSMENT_RESULT envelope.
func EncodeAssessmentResult(result AssessmentResult) ([]byte, error) {
	return encode(types.MessageTypeAssessmentResult, result)
}

// EncodeFeedbackAck encodes a FEEDBACK_ACK envelope.
func EncodeFeedbackAck(ack FeedbackAck) ([]byte, error) {
	return encode(types.MessageTypeFeedbackAck, ack)
}

// EncodeSessionEnd encodes a SESSION_END_DATA envelope.
func EncodeSessionEnd(end SessionEndData) ([]byte, error) {
	return encode(types.MessageTypeSessionEndData, end)
}

// Decode parses envelope bytes into a tagged Message. An unrecognized type
// tag returns a KindUnknown message and no error; the caller drops it
// silently. A structurally invalid envelope or payload returns an error the
// caller logs and drops. Neither outcome may take down the session.
func Decode(data []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	payload := []byte(env.JSONPayload)

	switch env.Type {
	case types.MessageTypeConnectionRequest:
		var req ConnectionRequest
		if err := unmarshalPayload(env.Type, payload, &req); err != nil {
			return nil, err
		}
		return &Message{Kind: KindConnectionRequest, ConnectionRequest: &req}, nil

	case types.MessageTypeConnectionApproved:
		return &Message{Kind: KindConnectionApproved}, nil

	case types.MessageTypeSessionInfo:
		var info SessionInfo
		if err := unmarshalPayload(env.Type, payload, &info); err != nil {
			return nil, err
		}
		return &Message{Kind: KindSessionInfo, SessionInfo: &info}, nil

	case types.MessageTypeStartAssessment:
		var assessment types.Assessment
		if err := unmarshalPayload(env.Type, payload, &assessment); err != nil {
			return nil, err
		}
		return &Message{Kind: KindStartAssessment, StartAssessment: &assessment}, nil

	case types.MessageTypeSubmissionMetadata:
		var submission types.AssessmentSubmission
		if err := unmarshalPayload(env.Type, payload, &submission); err != nil {
			return nil, err
		}
		return &Message{Kind: KindSubmissionMetadata, Submission: &submission}, nil

	case types.MessageTypeAssessmentResult:
		var result AssessmentResult
		if err := unmarshalPayload(env.Type, payload, &result); err != nil {
			return nil, err
		}
		if result.Submission == nil {
			return nil, fmt.Errorf("%w: %s without a submission", ErrMalformedPayload, env.Type)
		}
		return &Message{Kind: KindAssessmentResult, AssessmentResult: &result}, nil

	case types.MessageTypeFeedbackAck:
		var ack FeedbackAck
		if err := unmarshalPayload(env.Type, payload, &ack); err != nil {
			return nil, err
		}
		return &Message{Kind: KindFeedbackAck, FeedbackAck: &ack}, nil

	case types.MessageTypeSessionEndData:
		var end SessionEndData
		if err := unmarshalPayload(env.Type, payload, &end); err != nil {
			return nil, err
		}
		if end.Session == nil || end.Class == nil {
			return nil, fmt.Errorf("%w: %s missing session or class", ErrMalformedPayload, env.Type)
		}
		return &Message{Kind: KindSessionEnd, SessionEnd: &end}, nil

	default:
		return &Message{Kind: KindUnknown}, nil
	}
}

func unmarshalPayload(msgType string, data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, msgType)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msgType, err)
	}
	return nil
}
