// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cachestore

import "time"

func defaultNow() time.Time { return time.Now() }
