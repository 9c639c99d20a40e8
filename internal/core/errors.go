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

package core

// Kind identifies a capability error without carrying caller-specific
// context; compare with errors.Is, not string matching.
type Kind int

const (
	KindInvalidAccess Kind = iota
	KindInvalidAttributes
	KindChildNotFound
	KindInvalidChildCapa
	KindInvalidLocalCapa
	KindWrongCapaType
	KindCallNotAllowed
	KindDomainUnsealed
	KindDomainSealed
	KindInsufficientRights
	KindCapaNotOwned
	KindRevokeOnRootCapa
	KindDoubleRemapping
	KindIncompatibleRemap
	KindInvalidField
	KindInvalidValue
	KindParserDomain
	KindParserRegion
	KindParserStatus
	KindParserMonitor
	KindParserCapability
)

var kindNames = map[Kind]string{
	KindInvalidAccess:      "invalid access",
	KindInvalidAttributes:  "invalid attributes",
	KindChildNotFound:      "child not found",
	KindInvalidChildCapa:   "invalid child capability index",
	KindInvalidLocalCapa:   "invalid local capability handle",
	KindWrongCapaType:      "wrong capability type",
	KindCallNotAllowed:     "call not allowed",
	KindDomainUnsealed:     "domain unsealed",
	KindDomainSealed:       "domain sealed",
	KindInsufficientRights: "insufficient rights",
	KindCapaNotOwned:       "capability not owned",
	KindRevokeOnRootCapa:   "revoke on root capability",
	KindDoubleRemapping:    "double remapping",
	KindIncompatibleRemap:  "incompatible remap",
	KindInvalidField:       "invalid field",
	KindInvalidValue:       "invalid value",
	KindParserDomain:       "parser: malformed domain",
	KindParserRegion:       "parser: malformed region",
	KindParserStatus:       "parser: malformed status",
	KindParserMonitor:      "parser: malformed monitor api",
	KindParserCapability:   "parser: malformed capability",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown capability error"
}

// Error is the engine's sentinel error type. It is comparable through
// errors.Is even after being wrapped by github.com/pkg/errors at call
// sites that want to attach caller context (which handle, which domain).
type Error struct {
	Kind Kind
}

func (e *Error) Error() string {
	return e.Kind.String()
}

// Is lets errors.Is(err, ErrInvalidAccess) succeed regardless of wrapping.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

func newErr(k Kind) *Error { return &Error{Kind: k} }

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrInvalidAccess      = newErr(KindInvalidAccess)
	ErrInvalidAttributes  = newErr(KindInvalidAttributes)
	ErrChildNotFound      = newErr(KindChildNotFound)
	ErrInvalidChildCapa   = newErr(KindInvalidChildCapa)
	ErrInvalidLocalCapa   = newErr(KindInvalidLocalCapa)
	ErrWrongCapaType      = newErr(KindWrongCapaType)
	ErrCallNotAllowed     = newErr(KindCallNotAllowed)
	ErrDomainUnsealed     = newErr(KindDomainUnsealed)
	ErrDomainSealed       = newErr(KindDomainSealed)
	ErrInsufficientRights = newErr(KindInsufficientRights)
	ErrCapaNotOwned       = newErr(KindCapaNotOwned)
	ErrRevokeOnRootCapa   = newErr(KindRevokeOnRootCapa)
	ErrDoubleRemapping    = newErr(KindDoubleRemapping)
	ErrIncompatibleRemap  = newErr(KindIncompatibleRemap)
	ErrInvalidField       = newErr(KindInvalidField)
	ErrInvalidValue       = newErr(KindInvalidValue)
	ErrParserDomain       = newErr(KindParserDomain)
	ErrParserRegion       = newErr(KindParserRegion)
	ErrParserStatus       = newErr(KindParserStatus)
	ErrParserMonitor      = newErr(KindParserMonitor)
	ErrParserCapability   = newErr(KindParserCapability)
)
