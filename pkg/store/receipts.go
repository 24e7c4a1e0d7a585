package store

import (
	"encoding/json"
	"fmt"

	"teamwire/pkg/models"
)

// GetReceipt returns the delivery receipt for one recipient in a direct
// conversation; a zero receipt when none exists yet.
func GetReceipt(conv, user string) (models.DeliveryReceipt, error) {
	r := models.DeliveryReceipt{Conversation: conv, User: user}
	v, err := getRaw(receiptKey(conv, user))
	if err != nil {
		if IsNotFound(err) {
			return r, nil
		}
		return r, err
	}
	if err := json.Unmarshal(v, &r); err != nil {
		return r, fmt.Errorf("invalid stored receipt: %w", err)
	}
	return r, nil
}

// AdvanceDelivered moves the recipient's delivered watermark forward to
// ts. Returns the stored receipt and whether anything changed; a
// backward or equal move is a no-op, never an error.
func AdvanceDelivered(conv, user string, ts int64) (models.DeliveryReceipt, bool, error) {
	r, err := GetReceipt(conv, user)
	if err != nil {
		return r, false, err
	}
	if ts <= r.DeliveredTS {
		return r, false, nil
	}
	r.DeliveredTS = ts
	data, merr := json.Marshal(r)
	if merr != nil {
		return r, false, merr
	}
	return r, true, setRaw(receiptKey(conv, user), data)
}

// AdvanceRead moves the recipient's read watermark forward to ts. Read
// implies delivered, so the delivered watermark advances with it.
func AdvanceRead(conv, user string, ts int64) (models.DeliveryReceipt, bool, error) {
	r, err := GetReceipt(conv, user)
	if err != nil {
		return r, false, err
	}
	changed := false
	if ts > r.ReadTS {
		r.ReadTS = ts
		changed = true
	}
	if ts > r.DeliveredTS {
		r.DeliveredTS = ts
		changed = true
	}
	if !changed {
		return r, false, nil
	}
	data, merr := json.Marshal(r)
	if merr != nil {
		return r, false, merr
	}
	return r, true, setRaw(receiptKey(conv, user), data)
}

// GetReadWatermark returns the user's read watermark for a
// conversation; zero when never read.
func GetReadWatermark(conv, user string) (models.ReadWatermark, error) {
	w := models.ReadWatermark{Conversation: conv, User: user}
	v, err := getRaw(readmarkKey(conv, user))
	if err != nil {
		if IsNotFound(err) {
			return w, nil
		}
		return w, err
	}
	if err := json.Unmarshal(v, &w); err != nil {
		return w, fmt.Errorf("invalid stored watermark: %w", err)
	}
	return w, nil
}

// AdvanceReadWatermark moves the read watermark forward to ts; it never
// regresses.
func AdvanceReadWatermark(conv, user string, ts int64) (models.ReadWatermark, bool, error) {
	w, err := GetReadWatermark(conv, user)
	if err != nil {
		return w, false, err
	}
	if ts <= w.TS {
		return w, false, nil
	}
	w.TS = ts
	data, merr := json.Marshal(w)
	if merr != nil {
		return w, false, merr
	}
	return w, true, setRaw(readmarkKey(conv, user), data)
}

// GetClearWatermark returns the user's clear watermark for a
// conversation; zero when the conversation was never cleared.
func GetClearWatermark(user, conv string) (models.ClearWatermark, error) {
	w := models.ClearWatermark{User: user, Conversation: conv}
	v, err := getRaw(clearmarkKey(user, conv))
	if err != nil {
		if IsNotFound(err) {
			return w, nil
		}
		return w, err
	}
	if err := json.Unmarshal(v, &w); err != nil {
		return w, fmt.Errorf("invalid stored watermark: %w", err)
	}
	return w, nil
}

// SetClearWatermark overwrites the user's clear watermark for a
// conversation. Repeated clears replace, not merge; only this user's
// view is affected.
func SetClearWatermark(user, conv string, ts int64) error {
	w := models.ClearWatermark{User: user, Conversation: conv, TS: ts}
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return setRaw(clearmarkKey(user, conv), data)
}
