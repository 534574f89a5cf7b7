package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// A framed file is a single opaque binary blob:
//
//	[4-byte big-endian header length][header JSON bytes][raw payload bytes]
//
// The header carries correlation keys so the transfer is self-describing;
// no prior handshake message is needed to route it.

// maxHeaderLen bounds the declared header length so a corrupt or hostile
// length prefix cannot drive a huge allocation.
const maxHeaderLen = 64 * 1024

// headerLenSize is the size of the big-endian length prefix.
const headerLenSize = 4

// FileHeader is the embedded JSON header of a framed file. SubmissionID
// present means a student answer image bound for the tutor; absent means a
// tutor question image bound for students.
type FileHeader struct {
	SessionID    string `json:"sessionId"`
	QuestionID   string `json:"questionId"`
	SubmissionID string `json:"submissionId,omitempty"`
}

// ForStudentAnswer reports whether the file is a student answer image.
func (h FileHeader) ForStudentAnswer() bool {
	return h.SubmissionID != ""
}

// EncodeFile frames a header and raw payload bytes into one blob. The
// payload may be empty; the frame is still valid.
func EncodeFile(header FileHeader, payload []byte) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshal file header: %w", err)
	}
	if len(headerJSON) > maxHeaderLen {
		return nil, ErrHeaderTooLarge
	}

	frame := make([]byte, headerLenSize+len(headerJSON)+len(payload))
	binary.BigEndian.PutUint32(frame[:headerLenSize], uint32(len(headerJSON)))
	copy(frame[headerLenSize:], headerJSON)
	copy(frame[headerLenSize+len(headerJSON):], payload)
	return frame, nil
}

// DecodeFile splits a framed blob into its header and exact payload bytes.
// The returned payload aliases the input slice.
func DecodeFile(frame []byte) (FileHeader, []byte, error) {
	var header FileHeader

	if len(frame) < headerLenSize {
		return header, nil, ErrFrameTruncated
	}
	headerLen := binary.BigEndian.Uint32(frame[:headerLenSize])
	if headerLen > maxHeaderLen {
		return header, nil, ErrHeaderTooLarge
	}
	if uint32(len(frame)-headerLenSize) < headerLen {
		return header, nil, ErrFrameTruncated
	}

	headerJSON := frame[headerLenSize : headerLenSize+int(headerLen)]
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return header, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	return header, frame[headerLenSize+int(headerLen):], nil
}
