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

package engine

// RegisterCollaborator is the external core-state seam FieldType::Register
// is explicitly routed to: the engine's own handle table and policies know
// nothing about vCPU register content, so Set/Get forward register reads
// and writes here when a collaborator is configured via WithRegisters.
type RegisterCollaborator interface {
	SetRegister(domainID uint64, core uint64, field uint64, value uint64) error
	GetRegister(domainID uint64, core uint64, field uint64) (uint64, error)
}
