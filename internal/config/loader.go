package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"icc.tech/sip-grpc-gateway/internal/mapping"
)

// rulesFile is the YAML shape of an external mapping rules file.
type rulesFile struct {
	SIPToGRPC []mapping.RequestRuleConfig  `yaml:"sip_to_grpc"`
	GRPCToSIP []mapping.ResponseRuleConfig `yaml:"grpc_to_sip"`
}

// TableConfig assembles the full rule set for table compilation: rules from
// rules_file (when set) first, inline rules appended after.
func (m MappingConfig) TableConfig() (mapping.TableConfig, error) {
	out := mapping.TableConfig{OnMissing: m.OnMissing}

	if m.RulesFile != "" {
		ext, err := loadRulesFile(m.RulesFile)
		if err != nil {
			return mapping.TableConfig{}, err
		}
		out.SIPToGRPC = append(out.SIPToGRPC, ext.SIPToGRPC...)
		out.GRPCToSIP = append(out.GRPCToSIP, ext.GRPCToSIP...)
	}

	out.SIPToGRPC = append(out.SIPToGRPC, m.SIPToGRPC...)
	out.GRPCToSIP = append(out.GRPCToSIP, m.GRPCToSIP...)
	return out, nil
}

func loadRulesFile(path string) (*rulesFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("rules file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	return &rf, nil
}
