package model

import (
	"fmt"
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole преобразует строку в роль, отклоняя неизвестные значения
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

type User struct {
	ID                   int64     `json:"id"`
	Role                 Role      `json:"role"`
	FullName             string    `json:"full_name"`
	Email                string    `json:"email"`
	Timezone             string    `json:"timezone"`
	ConsultationFeeCents int64     `json:"consultation_fee_cents,omitempty"` // только для врачей
	CreatedAt            time.Time `json:"created_at"`
}

// Location возвращает часовой пояс пользователя, UTC если не задан или некорректен
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
