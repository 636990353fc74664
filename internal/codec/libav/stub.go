//go:build !libav

package libav

import "github.com/smazurov/hudrender/internal/codec"

const enabled = false

func register(*codec.Registry) {}
