//go:build !real_waku

package mesh

import "context"

func DialWaku(_ context.Context, _ WakuConfig) (Connection, error) {
	return nil, ErrWakuUnavailable
}
