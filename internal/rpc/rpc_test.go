package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameTypeString(t *testing.T) {
	cases := []struct {
		ft   FrameType
		want string
	}{
		{FrameReq, "REQ"},
		{FrameRsp, "RSP"},
		{FrameRegist, "REGIST"},
		{FrameRelease, "RELEASE"},
		{FrameType(0xFF), "UNKNOWN"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.ft.String())
	}
}

func TestEncodeDecodeHeadRoundTrip(t *testing.T) {
	msg := &Message{Handle: 0xDEADBEEF, AHandle: 0xCAFEF00D, RefID: -42}

	encoded := EncodeHead(msg)
	require.Len(t, encoded, headSize)

	handle, ahandle, refID := DecodeHead(encoded)
	assert.Equal(t, msg.Handle, handle)
	assert.Equal(t, msg.AHandle, ahandle)
	assert.Equal(t, msg.RefID, refID)
}

func TestSetResponse(t *testing.T) {
	msg := &Message{Handle: 1}
	msg.SetResponse([]byte("body"), NodeOffline)

	assert.Equal(t, "body", string(msg.Cont))
	assert.Equal(t, NodeOffline, msg.Code)
}
