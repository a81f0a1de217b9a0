package port

import (
	"context"

	"qc-vision/internal/domain/entity"
)

// CameraSource открывает устройство захвата по номеру
type CameraSource interface {
	Open(ctx context.Context, deviceID int) (Camera, error)
}

// Camera открытое устройство. Принадлежит ровно одному циклу захвата.
type Camera interface {
	// Read блокируется до получения следующего кадра
	Read() (*entity.Frame, error)

	// Release освобождает устройство
	Release() error
}
