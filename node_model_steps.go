package roadflow

import "math"

// step0 updates blocking flags of downstream lane groups, road connections and upstream lane groups
func (nm *NodeModel) step0() {
	for _, dlg := range nm.dlgs {
		dlg.blocked = !math.IsInf(dlg.sJ, 1) && dlg.sJ < solverEps
	}
	for _, rc := range nm.rcs {
		rc.blocked = rc.fbar < solverEps
		for _, info := range rc.dnInfos {
			if info.dlg.blocked {
				rc.blocked = true
				break
			}
		}
	}
	for _, ulg := range nm.ulgs {
		ulg.emptyOrBlocked = true
		for _, info := range ulg.rcInfos {
			if info.dIR >= solverEps && !info.rc.blocked {
				ulg.emptyOrBlocked = false
				break
			}
		}
	}
}

// step1 computes demand of every road connection and its distribution among downstream lane groups
func (nm *NodeModel) step1() {
	for _, rc := range nm.rcs {
		rc.dR = 0
		if !rc.blocked {
			for _, ulg := range rc.ulgs {
				if ulg.emptyOrBlocked {
					continue
				}
				rc.dR += ulg.demandFor(rc)
			}
		}
		if rc.blocked {
			continue
		}

		unbounded := 0.0
		for _, info := range rc.dnInfos {
			if math.IsInf(info.dlg.sJ, 1) {
				unbounded += info.lambda
			}
		}
		if unbounded > 0 {
			for _, info := range rc.dnInfos {
				info.alpha = 0
				if math.IsInf(info.dlg.sJ, 1) {
					info.alpha = info.lambda / unbounded
				}
			}
			continue
		}

		sR := 0.0
		for _, info := range rc.dnInfos {
			sR += info.lambda * info.dlg.sJ
		}
		for _, info := range rc.dnInfos {
			info.alpha = 0
			if sR > 0 {
				info.alpha = info.lambda * info.dlg.sJ / sR
			}
		}
	}
}

// step2 computes the discount of every downstream lane group
func (nm *NodeModel) step2() {
	for _, dlg := range nm.dlgs {
		switch {
		case math.IsInf(dlg.sJ, 1):
			dlg.gammaJ = 0
		case dlg.blocked:
			dlg.gammaJ = 1
		default:
			dJ := 0.0
			for _, rc := range dlg.rcs {
				dJ += rc.alphaTo(dlg) * math.Min(rc.dR, rc.fbar)
			}
			dlg.gammaJ = 0
			if dJ > dlg.sJ {
				dlg.gammaJ = math.Max(0, 1-dlg.sJ/dJ)
			}
		}
	}
}

// step3 computes the discount of every road connection: the demand-weighted
// average of its downstream discounts, raised where needed so that neither
// the saturation flow nor any downstream supply is exceeded.
func (nm *NodeModel) step3() {
	for _, rc := range nm.rcs {
		rc.gammaR = 0
		if rc.blocked {
			continue
		}
		saturation := 1.0
		if rc.dR > rc.fbar {
			saturation = rc.fbar / rc.dR
		}
		for _, info := range rc.dnInfos {
			rc.gammaR += info.dlg.gammaJ * info.alpha
		}
		for _, info := range rc.dnInfos {
			if info.alpha <= 0 {
				continue
			}
			rc.gammaR = math.Max(rc.gammaR, 1-(1-info.dlg.gammaJ)*saturation)
		}
	}
}

// step4 computes the discount of every upstream lane group from its most constrained connection
func (nm *NodeModel) step4() {
	for _, ulg := range nm.ulgs {
		ulg.gammaI = 0
		if ulg.emptyOrBlocked {
			continue
		}
		worst := 0.0
		for _, info := range ulg.rcInfos {
			if info.rc.blocked || info.dIR < solverEps {
				continue
			}
			worst = math.Max(worst, info.rc.gammaR)
		}
		ulg.gammaI = 1 - worst
	}
}

// step5 releases the discounted demand of every state heading to an open connection
func (nm *NodeModel) step5() {
	for _, rc := range nm.rcs {
		clear(rc.deltaRS)
	}
	for _, ulg := range nm.ulgs {
		for i := range ulg.states {
			st := &ulg.states[i]
			st.deltaIS = 0
			if ulg.emptyOrBlocked || st.rcIdx < 0 || st.dIS <= 0 {
				continue
			}
			info := ulg.rcInfos[st.rcIdx]
			if info.rc.blocked {
				continue
			}
			st.deltaIS = st.dIS * ulg.gammaI
			st.dIS -= st.deltaIS
			st.fIS += st.deltaIS
			info.dIR = math.Max(0, info.dIR-st.deltaIS)
			info.rc.deltaRS[st.key] += st.deltaIS
		}
	}
}

// step6 moves the released flow through the connections and discounts downstream supplies
func (nm *NodeModel) step6() {
	for _, rc := range nm.rcs {
		for _, key := range rc.states {
			deltaRS := rc.deltaRS[key]
			if deltaRS <= 0 {
				continue
			}
			rc.fRS[key] += deltaRS
			rc.fbar -= deltaRS
			for _, info := range rc.dnInfos {
				if info.alpha <= 0 {
					continue
				}
				flow := deltaRS * info.alpha
				info.dlg.sJ -= flow
				info.dlg.admit(key, flow)
			}
		}
	}
}

// demandFor returns remaining demand of the lane group directed at the connection
func (ulg *upLaneGroup) demandFor(rc *nodeRoadConnection) float64 {
	for _, info := range ulg.rcInfos {
		if info.rc == rc {
			return info.dIR
		}
	}
	return 0
}

func (rc *nodeRoadConnection) alphaTo(dlg *dnLaneGroup) float64 {
	for _, info := range rc.dnInfos {
		if info.dlg == dlg {
			return info.alpha
		}
	}
	return 0
}

func (dlg *dnLaneGroup) admit(key StateKey, flow float64) {
	if _, ok := dlg.admitted[key]; !ok {
		dlg.admittedStates, _ = insertStateKey(dlg.admittedStates, key)
	}
	dlg.admitted[key] += flow
}
