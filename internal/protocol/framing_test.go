package protocol

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	large := make([]byte, 1<<21) // >1MB
	rand.New(rand.NewSource(42)).Read(large)

	cases := []struct {
		name    string
		header  FileHeader
		payload []byte
	}{
		{
			name:    "empty payload",
			header:  FileHeader{SessionID: "sess-1", QuestionID: "q1"},
			payload: nil,
		},
		{
			name:    "single byte",
			header:  FileHeader{SessionID: "sess-1", QuestionID: "q1", SubmissionID: "sub-1"},
			payload: []byte{0xFF},
		},
		{
			name:    "large payload",
			header:  FileHeader{SessionID: "sess-1", QuestionID: "q2", SubmissionID: "sub-1"},
			payload: large,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := EncodeFile(tc.header, tc.payload)
			require.NoError(t, err)

			header, payload, err := DecodeFile(frame)
			require.NoError(t, err)
			assert.Equal(t, tc.header, header)
			if len(tc.payload) == 0 {
				assert.Empty(t, payload)
			} else {
				assert.True(t, bytes.Equal(tc.payload, payload), "payload bytes must survive exactly")
			}
		})
	}
}

func TestFileHeaderDirection(t *testing.T) {
	assert.True(t, FileHeader{SubmissionID: "sub-1"}.ForStudentAnswer())
	assert.False(t, FileHeader{SessionID: "sess-1", QuestionID: "q1"}.ForStudentAnswer())
}

func TestDecodeFile_Truncated(t *testing.T) {
	frame, err := EncodeFile(FileHeader{SessionID: "sess-1", QuestionID: "q1"}, []byte("img"))
	require.NoError(t, err)

	_, _, err = DecodeFile(frame[:2])
	assert.ErrorIs(t, err, ErrFrameTruncated)

	// Length prefix intact but header bytes missing.
	_, _, err = DecodeFile(frame[:headerLenSize+3])
	assert.ErrorIs(t, err, ErrFrameTruncated)
}

func TestDecodeFile_OversizedHeaderLength(t *testing.T) {
	frame := make([]byte, headerLenSize)
	binary.BigEndian.PutUint32(frame, maxHeaderLen+1)

	_, _, err := DecodeFile(frame)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestDecodeFile_MalformedHeaderJSON(t *testing.T) {
	bad := []byte(`{"sessionId":`)
	frame := make([]byte, headerLenSize+len(bad))
	binary.BigEndian.PutUint32(frame[:headerLenSize], uint32(len(bad)))
	copy(frame[headerLenSize:], bad)

	_, _, err := DecodeFile(frame)
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
