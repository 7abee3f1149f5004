package game

// EvaluateWinner decides the game from alive counts. Mafia win once they
// reach parity; villagers win once no mafia is left.
func EvaluateWinner(aliveMafia, aliveOthers int) Winner {
	switch {
	case aliveMafia == 0:
		return WinnerVillagers
	case aliveMafia >= aliveOthers:
		return WinnerMafia
	default:
		return WinnerNone
	}
}
