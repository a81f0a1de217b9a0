package entity

import "image"

// BoundingBox прямоугольник найденного объекта в координатах кадра
type BoundingBox struct {
	X1 int // левый край
	Y1 int // верхний край
	X2 int // правый край
	Y2 int // нижний край
}

// Rect возвращает нормализованный image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2).Canon()
}

// Width ширина области в пикселях
func (b BoundingBox) Width() int {
	return b.Rect().Dx()
}

// Height высота области в пикселях
func (b BoundingBox) Height() int {
	return b.Rect().Dy()
}

// Area площадь области в пикселях
func (b BoundingBox) Area() int {
	r := b.Rect()
	return r.Dx() * r.Dy()
}

// Center возвращает координаты центра области
func (b BoundingBox) Center() (x, y int) {
	r := b.Rect()
	return r.Min.X + r.Dx()/2, r.Min.Y + r.Dy()/2
}

// IoU отношение площади пересечения к площади объединения
func (b BoundingBox) IoU(other BoundingBox) float64 {
	inter := b.Rect().Intersect(other.Rect())
	interArea := inter.Dx() * inter.Dy()
	union := b.Area() + other.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

// Detection один результат детектора
type Detection struct {
	Label      string      // имя класса
	Confidence float64     // уверенность в диапазоне [0,1]
	Box        BoundingBox // рамка объекта
}
