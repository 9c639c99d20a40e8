//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Command capaengine is a tiny composition root: it loads a bootstrap
// manifest, builds the sealed root domain it describes, and prints that
// domain's attestation. It stands in for the external command-transport
// collaborator only far enough to prove the engine boots; the transport
// protocol itself is out of scope.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/aghosn/capability-v5/internal/attest"
	"github.com/aghosn/capability-v5/internal/bootstrap"
)

func main() {
	manifestPath := flag.String("manifest", "manifest.toml", "path to the bootstrap manifest")
	flag.Parse()

	log := logrus.WithField("component", "capaengine")

	m, err := bootstrap.Load(*manifestPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load bootstrap manifest")
	}

	root, err := bootstrap.Boot(m)
	if err != nil {
		log.WithError(err).Fatal("failed to boot root domain")
	}

	fmt.Fprint(os.Stdout, attest.Render(root))
}
