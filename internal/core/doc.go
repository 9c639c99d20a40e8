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

// Package core implements the capability model: the region algebra, the
// generic capability tree, the domain and memory-region payloads, the
// per-domain handle table, and the operation-update accumulator. Region
// and domain capabilities are mutually referential (a region's owner is a
// domain; a domain's handle table holds regions and child domains), so
// they are kept in a single package rather than split across packages
// that would otherwise need to import each other.
package core
