package config

import (
	"fmt"
	"io/ioutil"

	"github.com/hashicorp/hcl"
)

// LoadHCL reads the HCL file at path and applies every key found to the
// matching registered Param, following cmd/maho.go's loadConfig: decode
// into a generic map first, then hand each value to the target Param's
// Value.Set(string) rather than trying to decode HCL directly onto typed
// Go fields.
func LoadHCL(path string) error {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return applyHCL(b)
}

func applyHCL(b []byte) error {
	var raw map[string]interface{}
	if err := hcl.Decode(&raw, string(b)); err != nil {
		return err
	}
	for name, val := range raw {
		if err := cfg.setParam(name, fmt.Sprintf("%v", val), NoConfigFile); err != nil {
			return err
		}
	}
	return nil
}
