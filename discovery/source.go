package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jing2uo/etf2db/model"
	"gopkg.in/yaml.v3"
)

// Source 标的名单来源
type Source interface {
	Discover(ctx context.Context, region model.Region) ([]model.Instrument, error)
}

// YAMLSource 从本地名单文件读取标的，格式：
//
//	etfs:
//	  - id: 0050.TW
//	    name: 元大台灣50
//	    region: TW
//	    inception_date: 2003-06-30
//	    expense_ratio: 0.0043
type YAMLSource struct {
	Path string
}

type universeFile struct {
	ETFs []universeEntry `yaml:"etfs"`
}

type universeEntry struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Region        string   `yaml:"region"`
	Currency      string   `yaml:"currency"`
	ExpenseRatio  *float64 `yaml:"expense_ratio"`
	InceptionDate string   `yaml:"inception_date"`
}

func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{Path: path}
}

func (s *YAMLSource) Discover(ctx context.Context, region model.Region) ([]model.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe file: %w", err)
	}
	return parseUniverse(data, region)
}

func parseUniverse(data []byte, region model.Region) ([]model.Instrument, error) {
	var f universeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse universe file: %w", err)
	}

	var out []model.Instrument
	for i, e := range f.ETFs {
		id := model.NormalizeID(e.ID)
		if id == "" {
			continue
		}
		r, err := model.ParseRegion(e.Region)
		if err != nil {
			return nil, fmt.Errorf("etfs[%d] %s: %w", i, id, err)
		}
		if region != "" && r != region {
			continue
		}

		inst := model.Instrument{
			ETFID:        id,
			Name:         strings.TrimSpace(e.Name),
			Region:       r,
			Currency:     strings.ToUpper(strings.TrimSpace(e.Currency)),
			ExpenseRatio: e.ExpenseRatio,
		}
		if e.InceptionDate != "" {
			d, err := model.ParseDate(e.InceptionDate)
			if err != nil {
				return nil, fmt.Errorf("etfs[%d] %s: %w", i, id, err)
			}
			inst.InceptionDate = &d
		}
		out = append(out, inst)
	}
	return out, nil
}
