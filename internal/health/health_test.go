package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCheckFunc(t *testing.T) {
	want := errors.New("down")
	check := CheckFunc(func(context.Context) error { return want })
	if err := check.HealthCheck(context.Background()); !errors.Is(err, want) {
		t.Errorf("HealthCheck() = %v, want %v", err, want)
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		wantDead time.Duration
	}{
		{name: "explicit timeout", timeout: 50 * time.Millisecond, wantDead: 50 * time.Millisecond},
		{name: "default timeout", timeout: 0, wantDead: DefaultTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var remaining time.Duration
			check := WithTimeout(func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				if !ok {
					return errors.New("no deadline")
				}
				remaining = time.Until(deadline)
				return nil
			}, tt.timeout)
			if err := check.HealthCheck(context.Background()); err != nil {
				t.Fatalf("HealthCheck() error = %v", err)
			}
			if remaining <= 0 || remaining > tt.wantDead {
				t.Errorf("remaining = %v, want within (0, %v]", remaining, tt.wantDead)
			}
		})
	}
}

func TestWithTimeout_SlowCheck(t *testing.T) {
	check := WithTimeout(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)
	if err := check.HealthCheck(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("HealthCheck() = %v, want deadline exceeded", err)
	}
}

func TestRedis_Unreachable(t *testing.T) {
	// Port 1 on loopback refuses connections.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	check := WithTimeout(Redis(client), time.Second)
	if err := check.HealthCheck(context.Background()); err == nil {
		t.Error("expected error for unreachable redis")
	}
}
