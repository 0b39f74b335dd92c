package store

import "smm-store/internal/domain"

// Records handed out by the store never share pointers with its state.

func cloneUser(u domain.User) domain.User {
	u.DisplayName = cloneString(u.DisplayName)
	u.FirebaseUID = cloneString(u.FirebaseUID)
	return u
}

func cloneService(s domain.Service) domain.Service {
	s.Description = cloneString(s.Description)
	return s
}

func cloneOrder(o domain.Order) domain.Order {
	o.UserID = cloneString(o.UserID)
	o.StartCount = cloneInt(o.StartCount)
	o.Remains = cloneInt(o.Remains)
	return o
}

func clonePayment(p domain.Payment) domain.Payment {
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		p.CompletedAt = &t
	}
	return p
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
