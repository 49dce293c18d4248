package model

import (
	"fmt"

	"github.com/devrev/framekv/internal/codec"
)

// Key names a KV entry. Two keys with the same name but different home
// nodes are distinct entries.
type Key struct {
	// Name is the entry name.
	Name string
	// Home is the index of the node whose store owns the entry.
	Home int
}

// NewKey builds a key homed at node home.
func NewKey(name string, home int) Key {
	return Key{Name: name, Home: home}
}

// Clone returns a copy. Keys are plain values, so this is only a readability aid.
func (k Key) Clone() Key { return k }

// Equal compares name and home node.
func (k Key) Equal(o Key) bool { return k.Name == o.Name && k.Home == o.Home }

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.Name, k.Home) }

// Encode writes the key as namelen:8 + name + home:8.
func (k Key) Encode(s *codec.Serializer) {
	s.PutString(k.Name)
	s.PutInt64(int64(k.Home))
}

// DecodeKey reads a key written by Encode.
func DecodeKey(d *codec.Deserializer) Key {
	name := d.GetString()
	home := d.GetInt64()
	return Key{Name: name, Home: int(home)}
}
