package model_test

import (
	"net"
	"testing"

	"github.com/devrev/framekv/internal/codec"
	"github.com/devrev/framekv/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"loopback", "127.0.0.1:9000", "127.0.0.1:9000", false},
		{"localhost alias", "localhost:80", "127.0.0.1:80", false},
		{"max port", "10.0.0.1:65535", "10.0.0.1:65535", false},
		{"missing port", "10.0.0.1", "", true},
		{"port overflow", "10.0.0.1:70000", "", true},
		{"ipv6", "[::1]:9000", "", true},
		{"hostname", "example.com:80", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := model.ParseAddress(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

func TestAddressBytesRoundTrip(t *testing.T) {
	addr := model.NewAddress([4]byte{192, 168, 1, 20}, 8080)

	raw := addr.Bytes()
	require.Len(t, raw, model.AddressSize)
	assert.Equal(t, []byte{192, 168, 1, 20, 0x90, 0x1F}, raw)

	back, err := model.AddressFromBytes(raw)
	require.NoError(t, err)
	assert.True(t, addr.Equal(back))
	assert.Equal(t, "192.168.1.20:8080", back.String())

	_, err = model.AddressFromBytes(raw[:5])
	assert.Error(t, err)
}

func TestAddressFromNet(t *testing.T) {
	addr, err := model.AddressFromNet(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4242", addr.String())
	assert.Equal(t, uint16(4242), addr.Port())
}

func TestAddressEquality(t *testing.T) {
	a := model.NewAddress([4]byte{1, 2, 3, 4}, 1)
	b := model.NewAddress([4]byte{1, 2, 3, 4}, 1)
	c := model.NewAddress([4]byte{1, 2, 3, 4}, 2)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, model.Address{}.IsZero())
	assert.False(t, a.IsZero())
}

func TestKeyIdentity(t *testing.T) {
	k := model.NewKey("main", 3)
	clone := k.Clone()
	assert.True(t, k.Equal(clone))

	other := model.NewKey("main", 4)
	assert.False(t, k.Equal(other))

	entries := map[model.Key]int{k: 1, other: 2}
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, entries[clone])
}

func TestKeyEncodeLayout(t *testing.T) {
	s := codec.NewSerializer()
	model.NewKey("ab", 7).Encode(s)

	assert.Equal(t, []byte{
		2, 0, 0, 0, 0, 0, 0, 0, 'a', 'b',
		7, 0, 0, 0, 0, 0, 0, 0,
	}, s.Bytes())

	d := codec.NewDeserializer(s.Bytes())
	assert.Equal(t, model.NewKey("ab", 7), model.DecodeKey(d))
	require.NoError(t, d.Err())
}

func TestValueIsolation(t *testing.T) {
	buf := []byte("payload")
	v := model.NewValue(buf)
	clone := v.Clone()

	buf[0] = 'X'
	assert.Equal(t, "payload", v.String())

	out := v.Bytes()
	out[1] = 'Y'
	assert.Equal(t, "payload", v.String())
	assert.True(t, clone.Equal(v))
	assert.Equal(t, 7, clone.Len())
}

func TestValueEncodeRoundTrip(t *testing.T) {
	for _, v := range []model.Value{model.NewValue(nil), model.StringValue("x"), model.NewValue(make([]byte, 300))} {
		s := codec.NewSerializer()
		v.Encode(s)

		d := codec.NewDeserializer(s.Bytes())
		back := model.DecodeValue(d)
		require.NoError(t, d.Err())
		assert.True(t, v.Equal(back))
		assert.Equal(t, v, back)
	}
}
