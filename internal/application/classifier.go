package app

import "qc-vision/internal/domain/entity"

// Classifier сопоставляет детекции кадра с вердиктом по набору меток брака
type Classifier struct {
	ng map[string]struct{}
}

// NewClassifier создаёт классификатор с заданными метками брака
func NewClassifier(ngLabels []string) *Classifier {
	ng := make(map[string]struct{}, len(ngLabels))
	for _, l := range ngLabels {
		ng[l] = struct{}{}
	}
	return &Classifier{ng: ng}
}

// IsNG проверяет, относится ли метка к браку
func (c *Classifier) IsNG(label string) bool {
	_, ok := c.ng[label]
	return ok
}

// Classify возвращает решение по главной детекции кадра.
// Без детекций вердикт WAITING с пустой меткой.
func (c *Classifier) Classify(detections []entity.Detection) entity.Decision {
	primary, ok := PrimaryDetection(detections)
	if !ok {
		return entity.Decision{Verdict: entity.VerdictWaiting}
	}
	if c.IsNG(primary.Label) {
		return entity.Decision{Verdict: entity.VerdictNG, Label: primary.Label}
	}
	return entity.Decision{Verdict: entity.VerdictOK, Label: primary.Label}
}

// PrimaryDetection выбирает детекцию с наибольшей уверенностью.
// При равенстве побеждает первая в порядке движка.
func PrimaryDetection(detections []entity.Detection) (entity.Detection, bool) {
	if len(detections) == 0 {
		return entity.Detection{}, false
	}
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}
