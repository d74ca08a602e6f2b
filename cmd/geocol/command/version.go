// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

type VersionCmd struct {
	Detail bool `help:"Include detail about the commit and build date."`
	JSON   bool `help:"Print the version information as JSON."`
}

type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go,omitempty"`
}

func (c *VersionCmd) Run(info *VersionInfo) error {
	if c.JSON {
		detail := *info
		detail.Go = runtime.Version()
		return json.NewEncoder(os.Stdout).Encode(detail)
	}

	output := info.Version
	if c.Detail {
		output = fmt.Sprintf("%s (%s %s)", output, info.Commit, info.Date)
	}
	fmt.Fprintln(os.Stdout, output)
	return nil
}
