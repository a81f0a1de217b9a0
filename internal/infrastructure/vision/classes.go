package vision

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// dataset описание набора данных в формате ultralytics (data.yaml)
type dataset struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClassNames читает имена классов из data.yaml
func LoadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class names: %w", err)
	}
	names, err := ParseClassNames(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}

// ParseClassNames понимает оба варианта names: список и словарь индекс -> имя.
// Индексы словаря должны идти подряд с нуля.
func ParseClassNames(data []byte) ([]string, error) {
	var ds dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var names []string
	switch ds.Names.Kind {
	case yaml.SequenceNode:
		if err := ds.Names.Decode(&names); err != nil {
			return nil, fmt.Errorf("names: %w", err)
		}
	case yaml.MappingNode:
		byIndex := map[int]string{}
		if err := ds.Names.Decode(&byIndex); err != nil {
			return nil, fmt.Errorf("names: %w", err)
		}
		indexes := make([]int, 0, len(byIndex))
		for i := range byIndex {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for pos, i := range indexes {
			if i != pos {
				return nil, fmt.Errorf("names: missing class index %d", pos)
			}
			names = append(names, byIndex[i])
		}
	case 0:
		return nil, errors.New("names is missing")
	default:
		return nil, errors.New("names must be a list or a mapping")
	}

	if len(names) == 0 {
		return nil, errors.New("names is empty")
	}
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("names: class %d has no name", i)
		}
	}
	return names, nil
}
