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

import (
	"github.com/pkg/errors"

	"github.com/aghosn/capability-v5/internal/core"
)

// Call is the fixed numeric operation tag of the engine's external call
// surface (spec.md §6), the Go realization of the original local
// client's dispatch table.
type Call int

const (
	CallCreate Call = iota + 1
	CallSet
	CallGet
	CallSeal
	CallAttest
	CallEnumerate
	CallSwitch
	CallAlias
	CallCarve
	CallRevoke
	CallSend
)

// Result is the uniform return value of Dispatch: only the fields a
// given Call actually produces are meaningful, matching how the numeric
// surface packs every operation's return into one slot.
type Result struct {
	Handle  core.LocalCapa
	Value   uint64
	Text    string
	Updates []core.Update
	Domain  *core.DomainNode
}

// Dispatch realizes the six-argument numeric call surface of spec.md §6
// over Engine's typed operations, one switch arm per Call, argument
// layout exactly as specified there.
func (e *Engine) Dispatch(caller *core.DomainNode, call Call, args [6]uint64) (Result, error) {
	switch call {
	case CallCreate:
		h, err := e.Create(caller, args[0], core.MonitorAPI(args[1]), core.DefaultNoneInterruptPolicy())
		return Result{Handle: h}, err

	case CallSet:
		child := core.LocalCapa(args[0])
		err := e.Set(caller, child, args[1], core.FieldType(args[2]), core.Field{Vector: int(args[3])}, args[4])
		return Result{}, err

	case CallGet:
		child := core.LocalCapa(args[0])
		v, err := e.Get(caller, child, args[1], core.FieldType(args[2]), core.Field{Vector: int(args[3])})
		return Result{Value: v}, err

	case CallSeal:
		err := e.Seal(caller, core.LocalCapa(args[0]))
		return Result{}, err

	case CallAttest:
		text, err := e.Attest(caller, core.LocalCapa(args[0]))
		return Result{Text: text}, err

	case CallEnumerate:
		text, err := e.Enumerate(caller, core.LocalCapa(args[0]))
		return Result{Text: text}, err

	case CallSwitch:
		target, err := e.Switch(caller, core.LocalCapa(args[0]))
		return Result{Domain: target}, err

	case CallAlias:
		access := core.NewAccess(args[1], args[2], core.Rights(args[3]))
		h, updates, err := e.Alias(caller, core.LocalCapa(args[0]), access)
		return Result{Handle: h, Updates: updates}, err

	case CallCarve:
		access := core.NewAccess(args[1], args[2], core.Rights(args[3]))
		h, updates, err := e.Carve(caller, core.LocalCapa(args[0]), access)
		return Result{Handle: h, Updates: updates}, err

	case CallRevoke:
		updates, err := e.Revoke(caller, core.LocalCapa(args[0]), int(args[1]))
		return Result{Updates: updates}, err

	case CallSend:
		remap := decodeRemap(args[2], args[3])
		updates, err := e.Send(caller, core.LocalCapa(args[0]), core.LocalCapa(args[1]), remap, core.Attributes(args[4]))
		return Result{Updates: updates}, err

	default:
		return Result{}, core.ErrInvalidField
	}
}

// decodeRemap reflects §6's wire encoding: remap_flag=0 means Identity,
// any other value means Remapped(remap_gpa).
func decodeRemap(flag, gpa uint64) core.Remap {
	if flag == 0 {
		return core.IdentityRemap()
	}
	return core.RemappedTo(gpa)
}

// ErrorCode maps a capability error to the numeric discriminant the
// command transport reports to its caller (spec.md §7's "numeric error
// code equal to the enum discriminant"). Returns 0 for a nil error (no
// failure) or for an error this engine did not originate.
func ErrorCode(err error) int {
	if err == nil {
		return 0
	}
	capaErr, ok := errors.Cause(err).(*core.Error)
	if !ok {
		return 0
	}
	return int(capaErr.Kind) + 1
}
