package deployer

import (
	"fmt"
	"time"
)

const DefaultContract = "CapyToshka"

// ArtifactSource says where the compiled contract comes from. At most one of
// Bundle and Source may be set; otherwise Dir is searched.
type ArtifactSource struct {
	Dir    string // local hardhat artifacts directory
	Bundle string // s3://bucket/key.zip with an artifacts tree
	Source string // solidity file compiled with solc
	Solc   string // solc binary, defaults to solc on PATH
}

// Inputs represents the input parameters for a deployment.
type Inputs struct {
	ArtifactSource
	Network        string        // configured network name, empty for the default network
	Contract       string        // contract name as it appears in the artifacts
	Args           []string      // constructor arguments, parsed by ABI type
	Timeout        time.Duration // bound on the deployment itself, zero for none
	Records        string        // directory or s3:// location for deployment records
	ReportURL      string        // webhook receiving the deployment record
	ReportAttempts int           // webhook attempts, DefaultReportAttempts when zero
}

// Validate checks the required input fields.
func (i *Inputs) Validate() error {
	if i.Contract == "" {
		return fmt.Errorf("missing contract")
	}
	if i.Bundle != "" && i.Source != "" {
		return fmt.Errorf("artifact bundle and solidity source are mutually exclusive")
	}
	if i.Bundle == "" && i.Source == "" && i.Dir == "" {
		return fmt.Errorf("missing artifacts directory")
	}
	if i.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	if i.ReportAttempts < 0 {
		return fmt.Errorf("negative report attempts")
	}
	return nil
}
