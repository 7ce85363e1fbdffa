package schema

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// schemaFile YAML 模式声明文件
type schemaFile struct {
	Collections []*Schema `yaml:"collections"`
}

// LoadSchemas 从 YAML 声明中加载集合模式
func LoadSchemas(r io.Reader) ([]*Schema, error) {
	var file schemaFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.WithMessage(err, "yaml decode failed")
	}

	for _, s := range file.Collections {
		if err := s.Check(); err != nil {
			return nil, err
		}
	}

	return file.Collections, nil
}

// LoadSchemasFromFile 从 YAML 文件中加载集合模式
func LoadSchemasFromFile(path string) ([]*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "open schema file failed")
	}
	defer f.Close()

	return LoadSchemas(f)
}
