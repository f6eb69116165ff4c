package wxpay

import (
	"context"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"go.uber.org/zap"
)

// MicroPayWithPos submits a card-present payment and keeps resubmitting while the
// outcome is ambiguous, for at most the configured budget.
//
// The loop stops on channel failure, on payment success, on any payment failure
// outside the ambiguous set, and when the remaining budget cannot fit another call.
// A transport fault clears the last result and is retried within the budget; protocol
// and configuration faults abort immediately.
func (c *Client) MicroPayWithPos(ctx context.Context, req map[string]string) (map[string]string, error) {
	connectTimeout := c.config.ConnectTimeout
	deadline := c.now().Add(c.config.PosBudget)

	var last map[string]string
	var lastErr error
	attempts := 0

	for {
		remaining := deadline.Sub(c.now())
		readTimeout := remaining - connectTimeout
		if readTimeout <= minPosReadTimeout {
			break
		}

		attempts++
		resp, err := c.call(ctx, opMicroPay, req, connectTimeout, readTimeout)
		if err != nil {
			last, lastErr = nil, err
			if !domain.IsTransportFault(err) || ctx.Err() != nil {
				observability.RecordPosAttempt("error")
				break
			}
			observability.RecordPosAttempt("transport_fault")
			if !c.pause(ctx, deadline, attempts) {
				break
			}
			continue
		}
		last, lastErr = resp, nil

		if resp[FieldReturnCode] != Success {
			observability.RecordPosAttempt("channel_fail")
			break
		}
		if resp[FieldResultCode] == Success {
			observability.RecordPosAttempt("success")
			break
		}

		errCode := resp[FieldErrCode]
		if !IsAmbiguous(errCode) {
			observability.RecordPosAttempt("declined")
			c.logger.Info("Card-present payment declined",
				zap.String("out_trade_no", req[FieldOutTradeNo]),
				zap.String("err_code", errCode),
				zap.Int("attempts", attempts),
			)
			break
		}

		observability.RecordPosAttempt("ambiguous")
		if !c.pause(ctx, deadline, attempts) {
			break
		}
	}

	if last == nil {
		observability.RecordPosLoop("error", attempts)
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, domain.NewDomainError(domain.ErrorCodeTransportTimeout, "card-present budget exhausted without a result").
			WithDetail("attempts", attempts)
	}

	observability.RecordPosLoop(posOutcome(last), attempts)
	return last, nil
}

// pause sleeps before the next attempt. It returns false when the budget is spent
// or ctx is done.
func (c *Client) pause(ctx context.Context, deadline time.Time, attempts int) bool {
	remaining := deadline.Sub(c.now())
	if remaining <= minPosRemaining {
		return false
	}

	delay := c.backoff.Delay(remaining)
	c.logger.Info("Card-present outcome unknown, resubmitting",
		zap.Int("attempt", attempts),
		zap.Duration("remaining", remaining),
		zap.Duration("delay", delay),
	)
	return c.sleep(ctx, delay) == nil
}

func posOutcome(resp map[string]string) string {
	switch {
	case resp[FieldReturnCode] != Success:
		return "channel_fail"
	case resp[FieldResultCode] == Success:
		return "success"
	case IsAmbiguous(resp[FieldErrCode]):
		return "pending"
	default:
		return "declined"
	}
}
