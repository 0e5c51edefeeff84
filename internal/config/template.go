package config

// DefaultTemplateConfig возвращает заполненный пример конфига для -init-config:
// все секции с рабочими значениями, корпус — локальный файл.
func DefaultTemplateConfig() Config {
	d := Defaults()
	d.Corpus = "shakespeare.txt"
	d.Seed = 42
	d.Train.Epochs = Int(10)
	d.Train.Workers = 4
	d.Train.ClipNorm = 5
	d.Train.Optimizer.LR = 0.001
	d.Generate = Generate{Prompt: "ROMEO: ", Length: 200, Temperature: 1}
	d.Checkpoint.Save = "model.gob"
	return d
}
