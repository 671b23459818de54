package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConnectorSeedFile connectors.yaml 内容: 启动时写入/更新的连接实例
type ConnectorSeedFile struct {
	Connectors []ConnectorSeed `yaml:"connectors"`
}

// ConnectorSeed 单个连接实例
type ConnectorSeed struct {
	ID                 string   `yaml:"id"`
	TenantID           string   `yaml:"tenant_id"`
	Name               string   `yaml:"name"`
	ExternalInstanceID string   `yaml:"external_instance_id"`
	APIURL             string   `yaml:"api_url"`
	APIKey             string   `yaml:"api_key"`
	PhoneNumber        string   `yaml:"phone_number"`
	ProfileName        string   `yaml:"profile_name"`
	AuthorizedNumbers  []string `yaml:"authorized_numbers"`
	IgnoreOwnMessages  bool     `yaml:"ignore_own_messages"`
	Active             *bool    `yaml:"active,omitempty"`
}

// IsActive 未填写时默认启用
func (s ConnectorSeed) IsActive() bool {
	return s.Active == nil || *s.Active
}

// LoadConnectorSeeds 读取连接种子文件; 文件不存在时返回空列表
func LoadConnectorSeeds(path string) (*ConnectorSeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ConnectorSeedFile{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f ConnectorSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range f.Connectors {
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("%s: connector #%d needs id and name", path, i+1)
		}
		if c.TenantID == "" {
			f.Connectors[i].TenantID = "default"
		}
	}
	return &f, nil
}

// SaveConnectorSeeds 写回种子文件
func SaveConnectorSeeds(path string, f *ConnectorSeedFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
